package seal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	envelopeTag = "pcs1"
	keyLength   = 32
	nonceLength = 24
)

// Sealer seals and opens credentials under one passphrase.
// It satisfies session.Sealer.
type Sealer struct {
	cfg Config
}

// New returns a Sealer for cfg. The passphrase must be non-empty.
func New(cfg Config) (*Sealer, error) {
	if cfg.Passphrase == "" {
		return nil, ErrNoPassphrase
	}
	return &Sealer{cfg: cfg}, nil
}

// Seal encrypts plaintext and returns the encoded envelope.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	p := s.cfg.Params

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	key := s.derive(salt, p)
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &key)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$%s$m=%d,t=%d,p=%d$%s$%s",
		envelopeTag,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(box),
	), nil
}

// Open decrypts an envelope produced by Seal.
// A malformed envelope yields ErrInvalidFormat; a wrong passphrase or a
// modified box yields ErrOpenFailed.
func (s *Sealer) Open(encoded string) ([]byte, error) {
	params, salt, box, err := decode(encoded)
	if err != nil {
		return nil, err
	}

	// Anti-DoS: refuse envelopes demanding far more work than we would spend.
	if !withinReasonableBounds(params, s.cfg.Params) {
		return nil, ErrInvalidFormat
	}

	var nonce [nonceLength]byte
	copy(nonce[:], box[:nonceLength])

	key := s.derive(salt, params)
	out, ok := secretbox.Open(nil, box[nonceLength:], &nonce, &key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return out, nil
}

func (s *Sealer) derive(salt []byte, p Argon2idParams) [keyLength]byte {
	var key [keyLength]byte
	copy(key[:], argon2.IDKey([]byte(s.cfg.Passphrase), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLength))
	return key
}

func withinReasonableBounds(got, limits Argon2idParams) bool {
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	return true
}

func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 5 || parts[0] != "" || parts[1] != envelopeTag {
		return Argon2idParams{}, nil, nil, ErrInvalidFormat
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidFormat
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidFormat
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[3])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidFormat
	}
	box, err := b64.DecodeString(parts[4])
	if err != nil || len(box) < nonceLength+secretbox.Overhead {
		return Argon2idParams{}, nil, nil, ErrInvalidFormat
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),        // #nosec G115 -- bounded to 255 above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by the envelope size.
	}
	return params, salt, box, nil
}
