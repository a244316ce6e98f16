package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"activewatcher/internal/schemavalidation"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// A single validator instance is used because it caches struct parsing.
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Response is the body of every error response.
type Response struct {
	Message string  `json:"message"`
	Errors  []Error `json:"errors,omitempty"`
}

// Error is a problem scoped to one input field.
type Error struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// Write outputs v as JSON with the given status.
func Write(rw http.ResponseWriter, status int, v any) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = rw.Write(buf.Bytes())
}

// Read decodes a JSON body into value. The raw document is first checked
// against the named embedded schema, numbers are kept as json.Number, and
// value is then validated with its struct tags. On failure a 400 response
// has been written and false is returned.
func Read(rw http.ResponseWriter, r *http.Request, schema string, value any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		Write(rw, http.StatusBadRequest, Response{
			Message: fmt.Sprintf("read body: %s", err.Error()),
		})
		return false
	}

	var doc any
	if err := decodeNumbers(body, &doc); err != nil {
		Write(rw, http.StatusBadRequest, Response{
			Message: fmt.Sprintf("decode body: %s", err.Error()),
		})
		return false
	}

	if schema != "" {
		err := schemavalidation.Validate(schema, doc)
		var serr *schemavalidation.Error
		if errors.As(err, &serr) {
			apiErrors := make([]Error, 0, len(serr.Fields))
			for _, f := range serr.Fields {
				apiErrors = append(apiErrors, Error{Field: f.Field, Detail: f.Detail})
			}
			Write(rw, http.StatusBadRequest, Response{
				Message: "Validation failed",
				Errors:  apiErrors,
			})
			return false
		}
		if err != nil {
			Write(rw, http.StatusInternalServerError, Response{
				Message: fmt.Sprintf("schema: %s", err.Error()),
			})
			return false
		}
	}

	if err := decodeNumbers(body, value); err != nil {
		Write(rw, http.StatusBadRequest, Response{
			Message: fmt.Sprintf("decode body: %s", err.Error()),
		})
		return false
	}

	err = validate.Struct(value)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apiErrors := make([]Error, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			apiErrors = append(apiErrors, Error{
				Field:  validationError.Field(),
				Detail: fmt.Sprintf("Validation failed for tag %q with value: \"%v\"", validationError.Tag(), validationError.Value()),
			})
		}
		Write(rw, http.StatusBadRequest, Response{
			Message: "Validation failed",
			Errors:  apiErrors,
		})
		return false
	}
	if err != nil {
		Write(rw, http.StatusInternalServerError, Response{
			Message: fmt.Sprintf("validation: %s", err.Error()),
		})
		return false
	}
	return true
}

func decodeNumbers(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON document")
	}
	return nil
}
