package lumigator

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for API operations.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClientError indicates the backend rejected the request (4xx).
	ErrClientError = errors.New("request rejected")

	// ErrThrottled indicates the request was rate limited by the backend.
	ErrThrottled = errors.New("request throttled")

	// ErrServerError indicates the backend failed to serve the request (5xx).
	ErrServerError = errors.New("server error")

	// ErrMalformedResponse indicates a 2xx response whose body could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError wraps a failed API call with context.
type APIError struct {
	// Op is the client operation that failed (e.g., "GetJob").
	Op string

	// Method and Path identify the request.
	Method string
	Path   string

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Message is the backend's error detail, if it sent one.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		if e.Message != "" {
			return fmt.Sprintf("%s %s %s: %d: %v: %s", e.Op, e.Method, e.Path, e.StatusCode, e.Err, e.Message)
		}
		return fmt.Sprintf("%s %s %s: %d: %v", e.Op, e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsServerError returns true if the backend failed to serve the request.
func IsServerError(err error) bool {
	return errors.Is(err, ErrServerError)
}

// IsMalformedResponse returns true if a successful response could not be decoded.
func IsMalformedResponse(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

func sentinelFor(code int) error {
	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= 500:
		return ErrServerError
	default:
		return ErrClientError
	}
}
