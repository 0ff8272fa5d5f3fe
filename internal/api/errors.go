package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/asyncbg/internal/api/shared"
	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/channel"
	"github.com/phrazzld/asyncbg/internal/producer"
	"github.com/phrazzld/asyncbg/internal/status"
)

// ErrInvalidParameter is returned for malformed path or query parameters.
var ErrInvalidParameter = errors.New("invalid request parameter")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	// Identity errors
	case errors.Is(err, channel.ErrUnresolved):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, status.ErrForbidden):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, status.ErrNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, producer.ErrInvalidRequest),
		errors.Is(err, producer.ErrInvalidPayload),
		errors.Is(err, ErrInvalidParameter),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	// Broker down
	case errors.Is(err, broker.ErrUnavailable):
		return http.StatusServiceUnavailable

	// Default: internal server error, including corrupt records
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, channel.ErrUnresolved):
		return "Channel could not be resolved"

	case errors.Is(err, status.ErrForbidden):
		return "Task belongs to another channel"

	case errors.Is(err, status.ErrNotFound):
		return "Task not found"

	case errors.Is(err, producer.ErrInvalidPayload):
		return "Invalid payload"

	case errors.Is(err, producer.ErrInvalidRequest):
		return "Invalid request"

	case errors.Is(err, ErrInvalidParameter):
		return "Invalid request parameter"

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)

	case errors.Is(err, broker.ErrUnavailable):
		return "Task queue unavailable"

	case errors.Is(err, status.ErrCorruptRecord):
		return "Task status could not be read"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the error response for err, logging the detailed
// error and returning only a safe message to the client. A non-empty
// message overrides the default safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	statusCode := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, statusCode, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}

	errMsg := err.Error()

	// Check if this is likely a validation error message
	if strings.Contains(errMsg, "Field validation") {
		// Example format: "Key: 'Request.Message' Error:Field validation for 'Message' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	// Fall back to a generic validation error message
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
