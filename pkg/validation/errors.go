package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError maps a json field name to a readable failure
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

// Error lists the failures sorted by field
func (v *ValidationError) Error() string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.Errors[field])
	}
	return strings.Join(parts, "; ")
}

// NewValidationError keeps the first failure reported for each field
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	v := &ValidationError{Errors: make(map[string]string, len(errs))}
	for _, fe := range errs {
		if _, seen := v.Errors[fe.Field()]; !seen {
			v.Errors[fe.Field()] = describe(fe)
		}
	}
	return v
}

var comparisons = map[string]string{
	"gt":  "greater than",
	"gte": "greater than or equal to",
	"lt":  "less than",
	"lte": "less than or equal to",
}

func describe(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	isText := fe.Kind() == reflect.String

	if cmp, ok := comparisons[fe.Tag()]; ok {
		return fmt.Sprintf("%s must be %s %s", field, cmp, param)
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "max", "len":
		bound := map[string]string{"min": "at least", "max": "at most", "len": "exactly"}[fe.Tag()]
		if isText {
			return fmt.Sprintf("%s must be %s %s characters long", field, bound, param)
		}
		return fmt.Sprintf("%s must be %s %s", field, bound, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	default:
		return field + " is invalid"
	}
}

// AddError records a failure for field, replacing any earlier one
func (v *ValidationError) AddError(field, message string) {
	if v.Errors == nil {
		v.Errors = make(map[string]string)
	}
	v.Errors[field] = message
}

// HasErrors reports whether any failure was recorded
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// GetFieldError returns the failure recorded for field
func (v *ValidationError) GetFieldError(field string) (string, bool) {
	msg, ok := v.Errors[field]
	return msg, ok
}
