package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the credential in a single 0600 file.
//
// Writes go to a temp file in the same directory and are renamed into place,
// so a crash never leaves a half-written credential behind.
type FileStore struct {
	path   string
	sealer Sealer
}

// FileOption configures FileStore behavior.
type FileOption func(*FileStore)

// WithSealer seals the credential before it touches disk.
func WithSealer(s Sealer) FileOption {
	return func(f *FileStore) { f.sealer = s }
}

// NewFileStore constructs a FileStore at path.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty credential path", ErrConfig)
	}
	st := &FileStore{path: path}
	for _, opt := range opts {
		if opt != nil {
			opt(st)
		}
	}
	return st, nil
}

// Path returns the credential file location.
func (s *FileStore) Path() string { return s.path }

// Load implements CredentialStore.
func (s *FileStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("credential read: %w", err)
	}

	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return "", ErrNoCredential
	}

	if s.sealer == nil {
		return raw, nil
	}
	plain, err := s.sealer.Open(raw)
	if err != nil {
		return "", fmt.Errorf("credential open: %w", err)
	}
	return string(plain), nil
}

// Save implements CredentialStore.
func (s *FileStore) Save(ctx context.Context, credential string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out := credential
	if s.sealer != nil {
		sealed, err := s.sealer.Seal([]byte(credential))
		if err != nil {
			return fmt.Errorf("credential seal: %w", err)
		}
		out = sealed
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credential dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("credential temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credential chmod: %w", err)
	}
	if _, err := tmp.WriteString(out + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credential write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("credential rename: %w", err)
	}
	return nil
}

// Remove implements CredentialStore.
func (s *FileStore) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credential remove: %w", err)
	}
	return nil
}
