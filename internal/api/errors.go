package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/enrich/internal/api/shared"
	"github.com/phrazzld/enrich/internal/dispatch"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/phrazzld/enrich/internal/schema"
	"github.com/phrazzld/enrich/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the error itself.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, job.ErrUnknownKind),
		errors.Is(err, job.ErrInvalidPayload),
		errors.Is(err, dispatch.ErrInvalidOptions),
		errors.Is(err, schema.ErrUnknownSchema),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, store.ErrNotFound):
		return "Job not found"

	case errors.Is(err, job.ErrUnknownKind):
		return "Unknown job kind"

	case errors.Is(err, job.ErrInvalidPayload):
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return "Invalid job payload: " + SanitizeValidationError(verrs)
		}
		return "Invalid job payload"

	case errors.Is(err, dispatch.ErrInvalidOptions):
		return "Invalid batch request"

	case errors.Is(err, schema.ErrUnknownSchema):
		return "Unknown schema"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. fallback replaces
// the generic message for unmapped errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError turns validator output into a short message naming
// each failed field. Other errors yield a generic message.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag())))
	}
	return strings.Join(parts, "; ")
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required", "required_without", "required_without_all":
		return "required field"
	case "excluded_with":
		return "conflicts with another field"
	case "min", "gt", "gte":
		return "too small"
	case "max", "lt", "lte":
		return "too large"
	case "len":
		return "wrong length"
	case "oneof":
		return "invalid value"
	case "url":
		return "invalid URL"
	case "alpha", "uppercase":
		return "invalid format"
	default:
		return "validation failed"
	}
}
