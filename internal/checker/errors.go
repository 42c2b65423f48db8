package checker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound marks a node that no longer exists in the control plane
// (terminated or deregistered). Not an error condition for verification.
var ErrNotFound = errors.New("node not found")

// APIError is a non-2xx response from one of the status APIs.
type APIError struct {
	StatusCode int
	Message    string
}

// Error formats the API failure.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("status api returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err means the node no longer exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermission reports whether err is an authorization or configuration
// failure that no retry will fix.
func IsPermission(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsTransient reports whether err is worth retrying with backoff: throttling,
// timeouts, server-side failures, and transport errors.
func IsTransient(err error) bool {
	if err == nil || IsNotFound(err) || IsPermission(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return true
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Transport-level failures (connection reset, DNS, client timeout).
	return true
}
