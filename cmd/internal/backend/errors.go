package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is matched by StatusError for 401 and 403 responses.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrResponseTooLarge is returned when a body exceeds MaxResponseBytes.
	ErrResponseTooLarge = errors.New("backend: response too large")
	// ErrMalformedResponse wraps JSON decode failures.
	ErrMalformedResponse = errors.New("backend: malformed response")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s: HTTP %d", e.Method, e.Path, e.Status)
}

// Is lets errors.Is(err, ErrUnauthorized) match auth failures.
func (e *StatusError) Is(target error) bool {
	if target != ErrUnauthorized {
		return false
	}
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}
