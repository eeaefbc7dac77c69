package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// KnownPlatforms lists the platform identifiers accepted by the "platform" tag
var KnownPlatforms = []string{"whatsapp", "google_workspace"}

// Validator wraps the validator instance
type Validator struct {
	validate *validator.Validate
}

// New creates a new validator instance
func New() *Validator {
	v := validator.New()

	// Report json names so messages match what API callers sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("platform", validatePlatform); err != nil {
		panic(fmt.Sprintf("validator: register platform tag: %v", err))
	}

	return &Validator{
		validate: v,
	}
}

func validatePlatform(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	for _, p := range KnownPlatforms {
		if value == p {
			return true
		}
	}
	return false
}

// Validate validates a struct
func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return v.formatValidationError(err)
	}
	return nil
}

// ValidateVar validates a single variable
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	if err := v.validate.Var(field, tag); err != nil {
		return v.formatValidationError(err)
	}
	return nil
}

// formatValidationError formats validation errors into a readable message
func (v *Validator) formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatFieldError(e))
		}
		return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
	}
	return err
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	if ns := e.Namespace(); strings.Contains(ns, ".") {
		// drop the root struct name
		field = ns[strings.Index(ns, ".")+1:]
	}
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if e.Kind() == reflect.Slice || e.Kind() == reflect.Map {
			return fmt.Sprintf("%s must contain at least %s items", field, e.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "platform":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(KnownPlatforms, " "))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, tag)
	}
}

// DefaultValidator is the global validator instance
var DefaultValidator = New()

// Validate validates a struct using the default validator
func Validate(i interface{}) error {
	return DefaultValidator.Validate(i)
}

// ValidateVar validates a single variable using the default validator
func ValidateVar(field interface{}, tag string) error {
	return DefaultValidator.ValidateVar(field, tag)
}
