package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandlerError is an error returned to the client as JSON
type HandlerError struct {
	Code    int
	Message string
	Type    string
	Err     error
}

// NewMethodNotAllowedError creates a 405 error
func NewMethodNotAllowedError(msg string) *HandlerError {
	return &HandlerError{Code: http.StatusMethodNotAllowed, Message: msg, Type: "invalid_request_error"}
}

// NewNotFoundError creates a 404 error
func NewNotFoundError(msg string) *HandlerError {
	return &HandlerError{Code: http.StatusNotFound, Message: msg, Type: "not_found_error"}
}

// NewInternalError creates a 500 error wrapping err
func NewInternalError(msg string, err error) *HandlerError {
	return &HandlerError{Code: http.StatusInternalServerError, Message: msg, Type: "api_error", Err: err}
}

// Error implements error
func (e *HandlerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// ToResponse converts the error to its JSON body
func (e *HandlerError) ToResponse() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"type":    e.Type,
		},
	}
}

func writeError(w http.ResponseWriter, err error) {
	hErr, ok := err.(*HandlerError)
	if !ok {
		hErr = NewInternalError("internal error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(hErr.Code)
	if encodeErr := json.NewEncoder(w).Encode(hErr.ToResponse()); encodeErr != nil {
		slog.Error("failed to encode error response", "error", encodeErr)
	}
}
