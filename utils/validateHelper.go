package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the `validate` tag rules on any input struct. Handlers
// use it for payloads that bypass gin's binding layer (worker-side inputs,
// CLI seeds).
func ValidateStruct(input interface{}) error {
	return validate.Struct(input)
}
