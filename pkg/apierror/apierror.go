package apierror

import (
	"encoding/json"
	"net/http"
)

// Error is a structured API error response. StatusCode is carried for the
// HTTP layer but never serialized; clients see only code + message.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Retryable reports whether the condition is a "try again" condition as
// opposed to an invalid-input condition.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusBadGateway || e.StatusCode == http.StatusGatewayTimeout
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// NotFound creates a 404 for identifiers the upstream no longer knows.
func NotFound(message string) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
	}
}

// PageUnreachable creates a 422 for pagination chain gaps. The client can
// correct it by paging sequentially instead of skipping ahead.
func PageUnreachable(message string) *Error {
	return &Error{
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "PAGE_UNREACHABLE",
		Message:    message,
	}
}

// Upstream creates a 502 for transient upstream failures. Safe to retry.
func Upstream(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_ERROR",
		Message:    message,
	}
}

// Unprocessable creates a 422 for inputs that are well-formed but cannot be
// processed, e.g. bytes that do not decode as an image.
func Unprocessable(code, message string) *Error {
	return &Error{
		StatusCode: http.StatusUnprocessableEntity,
		Code:       code,
		Message:    message,
	}
}

// Internal creates a 500 Internal Server Error.
func Internal(message string) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
	}
}

// Write sends the error as the standard JSON envelope.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)

	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}
	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}
