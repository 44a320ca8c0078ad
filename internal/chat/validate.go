package chat

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

type sendRequest struct {
	ConversationID string `validate:"required"`
	Content        string `validate:"notblank"`
}

type createRequest struct {
	Title string `validate:"max=200"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}
