package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrorResponse is the JSON body returned by the API for failed requests.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Display       string         `json:"display"`
	Message       string         `json:"message,omitempty"`
	InternalError string         `json:"internal_error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// HTTPStatusFromErr maps a marked error to the status code the API returns.
func HTTPStatusFromErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsAlreadyExists(err), IsVersionConflict(err), IsLockConflict(err):
		return http.StatusConflict
	case IsValidation(err), IsInvalidOperation(err):
		return http.StatusBadRequest
	case IsPermissionDenied(err):
		return http.StatusForbidden
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the API body for err, hiding internals of 5xx errors.
func NewErrorResponse(err error) *ErrorResponse {
	display := GetHint(err)
	if display == "" {
		display = "An unexpected error occurred"
	}

	resp := &ErrorResponse{
		Error: ErrorDetail{
			Display: display,
			Details: GetReportableDetails(err),
		},
	}
	if len(resp.Error.Details) == 0 {
		resp.Error.Details = nil
	}
	if HTTPStatusFromErr(err) < http.StatusInternalServerError {
		resp.Error.Message = err.Error()
	} else {
		resp.Error.InternalError = err.Error()
	}
	return resp
}

// IsMarked reports whether err carries any known category marker.
func IsMarked(err error) bool {
	for _, m := range registeredMarkers {
		if errors.Is(err, m) {
			return true
		}
	}
	return false
}
