package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

// requestValidate checks request DTOs. Field names are reported by their
// JSON tag.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = requestValidate.RegisterValidation("block_type", func(fl validator.FieldLevel) bool {
		return models.BlockType(fl.Field().String()).Valid()
	})
	_ = requestValidate.RegisterValidation("link_type", func(fl validator.FieldLevel) bool {
		return models.LinkType(fl.Field().String()).Valid()
	})
	_ = requestValidate.RegisterValidation("session_status", func(fl validator.FieldLevel) bool {
		return models.SessionStatus(fl.Field().String()).Valid()
	})
}

// validateRequest turns the first tag violation into a ValidationError.
func validateRequest(v any) error {
	err := requestValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return apperr.Invalidf(fe.Field(), "failed %s=%s", fe.Tag(), fe.Param())
		}
		return apperr.Invalidf(fe.Field(), "failed %s", fe.Tag())
	}
	return apperr.Invalid("body", err.Error())
}
