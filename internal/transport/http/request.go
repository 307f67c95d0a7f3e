package http

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "licshop/internal/errors"
)

// validate is shared across handlers; validator instances cache struct
// metadata, so one per process is the intended usage.
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeAndValidate decodes a JSON body into dst and runs struct validation.
// Returns an APIError ready for the error handler on any failure.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := render.Decode(r, dst); err != nil {
		return apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST",
			"Request body is not valid JSON", err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var fields []apierrors.ValidationError
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, apierrors.ValidationError{
					Field:   fe.Field(),
					Message: validationMessage(fe),
				})
			}
		}
		if len(fields) == 0 {
			return apierrors.ErrValidationFailed
		}
		return apierrors.NewValidationErrors(fields)
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}
