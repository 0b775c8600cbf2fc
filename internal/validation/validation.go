// Package validation checks request payloads with go-playground/validator
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a validation error on one field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the shared validator; fields are reported by their json name
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates v and returns the first failure as a ValidationError
func Struct(v interface{}) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return toValidationError(verrs[0])
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: "email", Message: "email is required"}
	}
	if err := Validator().Var(email, "email"); err != nil {
		return ValidationError{Field: "email", Message: "invalid email format"}
	}
	return nil
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return ValidationError{Field: field, Message: field + " is required"}
	case "required_without":
		return ValidationError{Field: field, Message: fmt.Sprintf("%s is required when %s is missing", field, lowerFirst(fe.Param()))}
	case "min":
		return ValidationError{Field: field, Message: fmt.Sprintf("%s must be at least %s", field, fe.Param())}
	case "max":
		return ValidationError{Field: field, Message: fmt.Sprintf("%s must be at most %s", field, fe.Param())}
	case "email":
		return ValidationError{Field: field, Message: "invalid email format"}
	default:
		return ValidationError{Field: field, Message: fmt.Sprintf("%s failed %s validation", field, fe.Tag())}
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
