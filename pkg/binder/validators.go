package binder

import (
	"github.com/go-playground/validator/v10"
	"github.com/kurabooks/kura/pkg/models"
)

// readingDirectionValidator ensures the value is a known reading direction or
// the empty string. The empty string is allowed so optional fields can be
// omitted; pair with `required` when the field is mandatory.
func readingDirectionValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return value == models.ReadingDirectionLTR || value == models.ReadingDirectionRTL
}
