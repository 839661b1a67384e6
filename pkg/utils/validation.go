package utils

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidationFailed is returned when struct validation fails.
	ErrValidationFailed = errors.New("validation failed")
	// ErrBodyParseFailed is returned when the request body is not valid JSON.
	ErrBodyParseFailed = errors.New("failed to parse request body")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the shared validator. Field names in errors are the
// JSON names.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

var validationMessages = map[string]func(field, param string) string{
	"required": func(field, _ string) string { return fmt.Sprintf("'%s' is required", field) },
	"email":    func(field, _ string) string { return fmt.Sprintf("'%s' must be a valid email", field) },
	"min":      func(field, param string) string { return fmt.Sprintf("'%s' must be at least %s", field, param) },
	"max":      func(field, param string) string { return fmt.Sprintf("'%s' must be at most %s", field, param) },
	"oneof":    func(field, param string) string { return fmt.Sprintf("'%s' must be one of [%s]", field, param) },
}

// ValidateStruct checks payload against its validate tags and reports the
// first failing field.
func ValidateStruct(payload any) error {
	err := GetValidator().Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		if format, ok := validationMessages[fe.Tag()]; ok {
			return fmt.Errorf("%w: %s", ErrValidationFailed, format(fe.Field(), fe.Param()))
		}
		return fmt.Errorf("%w: '%s' failed '%s' check", ErrValidationFailed, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, err)
}

// ParseAndValidate decodes the JSON body into payload and validates it.
func ParseAndValidate(r *http.Request, payload any) error {
	if err := ParseJSONBody(r, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrBodyParseFailed, err)
	}
	return ValidateStruct(payload)
}

// WriteRequestError writes the 400 response for a ParseAndValidate failure.
func WriteRequestError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBodyParseFailed) {
		WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	WriteValidationErrorResponse(w, "Validation failed", strings.TrimPrefix(err.Error(), ErrValidationFailed.Error()+": "))
}
