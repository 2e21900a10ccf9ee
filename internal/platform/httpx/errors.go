package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps engine error kinds to HTTP problem responses. Anything
// that is not a recognised kind is treated as a store failure and hidden
// behind a 500.
func RespondError(w http.ResponseWriter, err error) {
	var vErrs validator.ValidationErrors
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.As(err, &vErrs):
		Problem(w, http.StatusBadRequest, "Invalid Request", vErrs.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Already Processed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
