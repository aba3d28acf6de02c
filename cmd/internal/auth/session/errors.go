package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredential is returned when a credential cannot be decoded or verified.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrCredentialExpired is returned when the embedded expiry is not in the future.
	// It wraps ErrInvalidCredential.
	ErrCredentialExpired = fmt.Errorf("%w: expired", ErrInvalidCredential)

	// ErrNoCredential is returned by a CredentialStore that holds nothing.
	ErrNoCredential = errors.New("no stored credential")

	// ErrNotAuthenticated is returned by operations that need a Session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ExpiredError carries the offending expiry for diagnostics.
type ExpiredError struct {
	ExpiresAt time.Time
	Now       time.Time
}

func (e ExpiredError) Error() string {
	return fmt.Sprintf("%s: exp=%s now=%s", ErrCredentialExpired.Error(),
		e.ExpiresAt.UTC().Format(time.RFC3339), e.Now.UTC().Format(time.RFC3339))
}

func (e ExpiredError) Unwrap() error { return ErrCredentialExpired }
