// internal/utils/validator.go
package utils

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var orgIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	validate.RegisterValidation("org_id", validateOrgID)
	validate.RegisterValidation("api_key", validateAPIKey)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateVar checks a single value against a tag such as "eth_addr".
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

// validateOrgID accepts lowercase slugs such as "city-hospital".
func validateOrgID(fl validator.FieldLevel) bool {
	return orgIDPattern.MatchString(fl.Field().String())
}

func validateAPIKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	if len(key) < 24 || len(key) > 128 {
		return false
	}
	return !strings.ContainsAny(key, " \t\r\n")
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   e.Field(),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "len":
		return e.Field() + " must have length " + e.Param()
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "eth_addr":
		return e.Field() + " must be a 0x-prefixed 20-byte address"
	case "hexadecimal":
		return e.Field() + " must be hex encoded"
	case "org_id":
		return "Organization id must be 2-64 lowercase letters, digits, dashes or underscores"
	case "api_key":
		return "API key must be 24-128 characters without whitespace"
	default:
		return e.Field() + " is invalid"
	}
}
