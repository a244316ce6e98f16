package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is matched by every ValidationErrors.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError is a problem with one setting. Field is the dotted TOML
// key, e.g. "watch.idle.poll_seconds".
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors lists every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("toml")
	})
	_ = v.RegisterValidation("origin", func(fl validator.FieldLevel) bool {
		origin := fl.Field().String()
		return origin == "*" || isHTTPURL(origin)
	})
	_ = v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		return isHTTPURL(fl.Field().String())
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		l := sl.Current().Interface().(LoggingConfig)
		if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
			sl.ReportError(l.FilePath, "file_path", "FilePath", "file_output", "")
		}
	}, LoggingConfig{})
	return v
}

// ValidateConfig checks every section and reports all problems at once.
func ValidateConfig(c *Config) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	errs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{Field: keyOf(fe), Message: messageFor(fe)})
	}
	return errs
}

// keyOf drops the root type name from the validator namespace.
func keyOf(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is missing"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return "cannot be negative"
	case "gt":
		return "must be positive"
	case "oneof":
		return fmt.Sprintf("%q is not one of: %s", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "origin":
		return fmt.Sprintf("invalid origin %q (use * or an http(s) URL)", fe.Value())
	case "httpurl":
		return fmt.Sprintf("invalid server URL %q", fe.Value())
	case "file_output":
		return "required when output is file or both"
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
