package session

import (
	"context"
	"sync"
)

// CredentialStore persists the bearer credential between process runs.
// It plays the role browser-local storage plays for a web client.
type CredentialStore interface {
	// Load returns the stored credential or ErrNoCredential.
	Load(ctx context.Context) (string, error)

	// Save replaces the stored credential.
	Save(ctx context.Context, credential string) error

	// Remove deletes the stored credential. Removing nothing is not an error.
	Remove(ctx context.Context) error
}

// Sealer protects the credential at rest.
type Sealer interface {
	Seal(plain []byte) (string, error)
	Open(encoded string) ([]byte, error)
}

// MemoryStore is a process-local CredentialStore.
type MemoryStore struct {
	mu         sync.Mutex
	credential string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load implements CredentialStore.
func (s *MemoryStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential == "" {
		return "", ErrNoCredential
	}
	return s.credential, nil
}

// Save implements CredentialStore.
func (s *MemoryStore) Save(ctx context.Context, credential string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.credential = credential
	s.mu.Unlock()
	return nil
}

// Remove implements CredentialStore.
func (s *MemoryStore) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.credential = ""
	s.mu.Unlock()
	return nil
}
