// Package v1 defines the wire contract of the staff chat backend.
//
// Addresses and payload field names must match the server's STOMP routing
// exactly. Inbound frames are decoded into tagged variants selected by the
// address they arrived on; anything else is rejected.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Well-known addresses (wire-stable).
const (
	// AddressJoin receives the join announcement (client -> server).
	AddressJoin = "/app/chat.addUser"
	// AddressSend receives private messages (client -> server).
	AddressSend = "/app/chat.privateMessage"
	// AddressPresence broadcasts the full online set (server -> all clients).
	AddressPresence = "/topic/onlineUsers"

	privateQueuePrefix = "/user/"
	privateQueueSuffix = "/queue/private"
)

// MaxContentChars bounds outbound message bodies (runes).
const MaxContentChars = 4000

// Kind tags an inbound variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindJoinAck
	KindPresenceSnapshot
	KindPrivateMessage
)

func (k Kind) String() string {
	switch k {
	case KindJoinAck:
		return "join_ack"
	case KindPresenceSnapshot:
		return "presence_snapshot"
	case KindPrivateMessage:
		return "private_message"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownAddress is returned for frames on an address the client never subscribed to.
	ErrUnknownAddress = errors.New("unknown inbound address")
	// ErrMalformed is returned when a payload does not match its schema.
	ErrMalformed = errors.New("malformed payload")
)

// Inbound is one decoded delivery. Exactly one of the payload fields is set,
// matching Kind.
type Inbound struct {
	Kind     Kind
	Presence PresenceSnapshot
	Message  PrivateMessage
	JoinAck  JoinAck
}

// PrivateQueue returns the private mailbox address of a subject.
func PrivateQueue(subjectID string) string {
	return privateQueuePrefix + subjectID + privateQueueSuffix
}

// IsPrivateQueue reports whether destination is a private mailbox address.
func IsPrivateQueue(destination string) bool {
	return strings.HasPrefix(destination, privateQueuePrefix) &&
		strings.HasSuffix(destination, privateQueueSuffix) &&
		len(destination) > len(privateQueuePrefix)+len(privateQueueSuffix)
}

// DecodeInbound decodes a frame body according to the address it arrived on.
func DecodeInbound(destination string, body []byte) (Inbound, error) {
	switch {
	case destination == AddressPresence:
		var s PresenceSnapshot
		if err := decodeBody(body, &s); err != nil {
			return Inbound{}, fmt.Errorf("%w: presence: %v", ErrMalformed, err)
		}
		if s == nil {
			// JSON null is an empty set, not an absent one.
			s = PresenceSnapshot{}
		}
		if err := s.Validate(); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Inbound{Kind: KindPresenceSnapshot, Presence: s}, nil

	case IsPrivateQueue(destination):
		var m PrivateMessage
		if err := decodeBody(body, &m); err != nil {
			return Inbound{}, fmt.Errorf("%w: private: %v", ErrMalformed, err)
		}
		if err := m.Validate(); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Inbound{Kind: KindPrivateMessage, Message: m}, nil

	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownAddress, destination)
	}
}

// decodeBody decodes exactly one JSON value. Unknown fields are ignored:
// pushes carry the same persisted entity as history, extra columns included.
func decodeBody(body []byte, dst any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON value")
	}
	return nil
}

// ---- timestamps ----

// Timestamp accepts RFC3339 and the zone-less LocalDateTime form the server
// emits. A zone-less value keeps its wall clock in Time (as UTC) and sets
// Zoneless; Instant resolves it against the server's location.
type Timestamp struct {
	time.Time
	Zoneless bool
}

var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses s. Zone-less values are read in loc; nil means
// time.Local. The result is in UTC.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	ts, err := parseTimestamp(s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Instant(loc), nil
}

func parseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{Time: t.UTC()}, nil
	}
	for _, layout := range localDateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t, Zoneless: true}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp: %q", s)
}

// Instant returns the instant t denotes, in UTC. Zone-less wall clocks are
// read in loc (time.Local when nil).
func (t Timestamp) Instant(loc *time.Location) time.Time {
	if !t.Zoneless || t.IsZero() {
		return t.Time
	}
	if loc == nil {
		loc = time.Local
	}
	w := t.Time
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc).UTC()
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := parseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler. Zone-less values stay zone-less.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	if t.Zoneless {
		return json.Marshal(t.Time.Format(localDateTimeLayouts[0]))
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
