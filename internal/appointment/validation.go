package appointment

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError is a request rejected before any store access. It unwraps
// to ErrMissingField, ErrInvalidDate or ErrInvalidField.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error(), Err: ErrInvalidField}
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: fe.Field(), Reason: "this field is required", Err: ErrMissingField}
	case "datetime":
		return &ValidationError{Field: fe.Field(), Reason: "must be a calendar date (YYYY-MM-DD)", Err: ErrInvalidDate}
	case "uuid":
		return &ValidationError{Field: fe.Field(), Reason: "must be a valid UUID", Err: ErrInvalidField}
	case "max":
		return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("maximum length is %s", fe.Param()), Err: ErrInvalidField}
	default:
		return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("invalid %s field", fe.Field()), Err: ErrInvalidField}
	}
}
