package conversation

import "errors"

var (
	// ErrNotActivated is returned by operations that need the local identity.
	ErrNotActivated = errors.New("conversation: not activated")
	// ErrInvalidMessage is returned by Send for empty or oversized bodies.
	ErrInvalidMessage = errors.New("conversation: invalid message")
	// ErrUnknownPeer is returned by Send for an empty recipient.
	ErrUnknownPeer = errors.New("conversation: unknown peer")
)
