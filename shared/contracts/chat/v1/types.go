package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ---- Outbound payloads ----

// JoinPayload announces the local subject on the shared presence set.
// Field names follow the server DTO exactly.
type JoinPayload struct {
	UserID   string `json:"userid"`
	Username string `json:"username"`
	UserRole string `json:"userRole,omitempty"`
}

// Validate checks required join fields.
func (p JoinPayload) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("missing field: userid")
	}
	return nil
}

// SendPayload is a private message as published by the sender.
// The server stamps createdAt, so it is absent here.
type SendPayload struct {
	Content     string `json:"content"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	RecipientID string `json:"recipientId"`
}

// Validate checks required send fields.
func (p SendPayload) Validate() error {
	if strings.TrimSpace(p.SenderID) == "" {
		return errors.New("missing field: senderId")
	}
	if strings.TrimSpace(p.RecipientID) == "" {
		return errors.New("missing field: recipientId")
	}
	if p.Content == "" {
		return errors.New("missing field: content")
	}
	if len([]rune(p.Content)) > MaxContentChars {
		return fmt.Errorf("content too long: max=%d chars", MaxContentChars)
	}
	return nil
}

// ---- Inbound payloads ----

// PrivateMessage is one delivery on the private mailbox. It is also the
// element type of history responses.
type PrivateMessage struct {
	Content     string    `json:"content"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	RecipientID string    `json:"recipientId"`
	CreatedAt   Timestamp `json:"createdAt"`
}

// Validate checks required message fields.
func (m PrivateMessage) Validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return errors.New("missing field: senderId")
	}
	if strings.TrimSpace(m.RecipientID) == "" {
		return errors.New("missing field: recipientId")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("missing field: createdAt")
	}
	return nil
}

// PresenceSnapshot is the full online set keyed by peer id.
// Values are server-defined presence markers (usually the display name).
type PresenceSnapshot map[string]string

// Validate rejects blank peer ids.
func (s PresenceSnapshot) Validate() error {
	for id := range s {
		if strings.TrimSpace(id) == "" {
			return errors.New("presence snapshot: blank peer id")
		}
	}
	return nil
}

// JoinAck is not sent by the server. The channel synthesizes it when the
// first presence snapshot after a (re)connect contains the local subject.
type JoinAck struct {
	SubjectID string
	At        time.Time
}

// ---- REST payloads (directory, history, login) ----

// User is one directory entry.
type User struct {
	UserID   string `json:"userid"`
	Username string `json:"username"`
	UserRole string `json:"userRole"`
}

// LoginRequest is the credential exchange request body.
type LoginRequest struct {
	UserID   string `json:"userid"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer credential.
type LoginResponse struct {
	GrantType   string `json:"grantType"`
	AccessToken string `json:"accessToken"`
}
