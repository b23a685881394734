package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs `validate` struct tags and flattens the first failure into a
// caller-friendly error. Used by the HTTP handlers and the cmd tools before any
// engine call.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			fe := errs[0]
			return fmt.Errorf("invalid %s: failed %q validation", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}
