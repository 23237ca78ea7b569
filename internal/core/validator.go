package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator. Field names in results use the
// json tag so messages match what the client sent.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes one failed rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects the failures for one struct.
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid reports whether no rule failed.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Has reports whether any failure used the given rule tag.
func (r ValidationResult) Has(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct runs the struct's validate tags. A non-struct argument is a
// programming error and is logged and reported as a single failure.
func (v *Validator) ValidateStruct(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return ValidationResult{Errors: []ValidationError{{Code: "invalid", Message: err.Error()}}}
	}

	result := ValidationResult{Errors: make([]ValidationError, 0, len(verrs))}
	for _, fe := range verrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return result
}

// ValidateVar validates a single value against a tag string.
func (v *Validator) ValidateVar(value any, tag string) error {
	return v.validate.Var(value, tag)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
}
