// Package errors defines the client-facing gateway errors and their JSON
// wire shape.
package errors

import (
	"encoding/json"
	"net/http"
	"time"
)

// GatewayError is an error the gateway returns to clients. The shared
// singletons below cover the common cases; WithMessage derives variants
// with a specific message.
type GatewayError struct {
	Status  int
	Reason  string // HTTP reason phrase, serialized as "error"
	Message string
}

func (e *GatewayError) Error() string {
	return e.Message
}

// body is the wire shape every client-facing error carries.
type body struct {
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

// WriteJSON writes the error as a JSON response for the given request path.
// The timestamp is epoch milliseconds at write time.
func (e *GatewayError) WriteJSON(w http.ResponseWriter, path string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(body{
		Timestamp: time.Now().UnixMilli(),
		Status:    e.Status,
		Error:     e.Reason,
		Message:   e.Message,
		Path:      path,
	})
}

// WithMessage returns a copy of the error with a different message. The
// receiver, typically one of the singletons, is never mutated.
func (e *GatewayError) WithMessage(message string) *GatewayError {
	return &GatewayError{
		Status:  e.Status,
		Reason:  e.Reason,
		Message: message,
	}
}

// Common errors
var (
	ErrNotFound = &GatewayError{
		Status:  http.StatusNotFound,
		Reason:  "Not Found",
		Message: "Service route not found",
	}

	ErrMethodNotAllowed = &GatewayError{
		Status:  http.StatusMethodNotAllowed,
		Reason:  "Method Not Allowed",
		Message: "Method not allowed",
	}

	ErrUnauthorized = &GatewayError{
		Status:  http.StatusUnauthorized,
		Reason:  "Unauthorized",
		Message: "Unauthorized",
	}

	ErrTooManyRequests = &GatewayError{
		Status:  http.StatusTooManyRequests,
		Reason:  "Too Many Requests",
		Message: "Rate limit exceeded",
	}

	ErrBadGateway = &GatewayError{
		Status:  http.StatusBadGateway,
		Reason:  "Bad Gateway",
		Message: "Backend service unavailable",
	}

	ErrServiceUnavailable = &GatewayError{
		Status:  http.StatusServiceUnavailable,
		Reason:  "Service Unavailable",
		Message: "Service temporarily unavailable",
	}
)
