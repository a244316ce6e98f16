// Package schemavalidation checks JSON documents against the embedded
// activewatcher schemas.
package schemavalidation

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// StateSchema is the schema for POST /v1/state bodies.
const StateSchema = "schemas/state-v1.schema.json"

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// FieldError is a single violation located by JSON pointer.
type FieldError struct {
	Field  string
	Detail string
}

// Error lists every violation found in an instance.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Detail))
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

func compileAll() {
	compiled = make(map[string]*jsonschema.Schema)
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		compileErr = fmt.Errorf("read embedded schemas: %w", err)
		return
	}
	for _, e := range entries {
		path := "schemas/" + e.Name()
		data, err := schemaFS.ReadFile(path)
		if err != nil {
			compileErr = fmt.Errorf("read schema %s: %w", path, err)
			return
		}
		if err := compiler.AddResource(path, bytes.NewReader(data)); err != nil {
			compileErr = fmt.Errorf("add schema resource %s: %w", path, err)
			return
		}
	}
	for _, e := range entries {
		path := "schemas/" + e.Name()
		schema, err := compiler.Compile(path)
		if err != nil {
			compileErr = fmt.Errorf("compile schema %s: %w", path, err)
			return
		}
		compiled[path] = schema
	}
}

// Validate checks instance, as produced by encoding/json (optionally with
// UseNumber), against the named embedded schema. Violations are returned as
// *Error.
func Validate(name string, instance any) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return compileErr
	}
	schema, ok := compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate instance: %w", err)
	}

	out := &Error{}
	collect(ve, out)
	if len(out.Fields) == 0 {
		out.Fields = append(out.Fields, FieldError{Field: field(ve.InstanceLocation), Detail: ve.Message})
	}
	sort.SliceStable(out.Fields, func(i, j int) bool {
		return out.Fields[i].Field < out.Fields[j].Field
	})
	return out
}

// collect gathers the leaf causes, which carry the specific messages.
func collect(ve *jsonschema.ValidationError, out *Error) {
	if len(ve.Causes) == 0 {
		out.Fields = append(out.Fields, FieldError{Field: field(ve.InstanceLocation), Detail: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collect(c, out)
	}
}

// field turns a JSON pointer such as "/data" into "data"; the root is "body".
func field(pointer string) string {
	p := strings.TrimPrefix(pointer, "/")
	if p == "" {
		return "body"
	}
	return strings.ReplaceAll(p, "/", ".")
}
