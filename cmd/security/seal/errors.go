package seal

import "errors"

var (
	// ErrOpenFailed covers wrong passphrases and tampered boxes alike.
	ErrOpenFailed = errors.New("sealed credential cannot be opened")
	// ErrInvalidFormat means the input is not a pcs1 envelope.
	ErrInvalidFormat = errors.New("invalid sealed credential format")
	// ErrNoPassphrase is returned when sealing is requested without a passphrase.
	ErrNoPassphrase = errors.New("empty passphrase")
)
