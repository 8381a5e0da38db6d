package common

import (
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator. Field names in errors use the
// json tag so they match request payloads.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		validate = v
	})
	return validate
}

// ValidateStruct runs struct validation and wraps failures as a VALIDATION_FAILED AppError.
// base, when set, is joined into the error chain so callers can match it with errors.Is.
func ValidateStruct(v any, base error) error {
	if err := Validator().Struct(v); err != nil {
		return ValidationFailed(err, base)
	}
	return nil
}

// ValidateStructExcept is ValidateStruct skipping the named fields, given as
// Go field paths relative to v such as "Customer.Region".
func ValidateStructExcept(v any, base error, fields ...string) error {
	if err := Validator().StructExcept(v, fields...); err != nil {
		return ValidationFailed(err, base)
	}
	return nil
}
