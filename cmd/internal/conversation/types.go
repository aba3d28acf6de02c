package conversation

import (
	"context"
	"time"

	v1 "pacschat/shared/contracts/chat/v1"
)

// Self is the local identity conversation state is built for.
type Self struct {
	ID          string
	DisplayName string
}

// Peer is a static directory entry.
type Peer struct {
	ID          string
	DisplayName string
	Role        string
}

// Message is immutable once created.
type Message struct {
	Body        string
	SenderID    string
	SenderName  string
	RecipientID string
	CreatedAt   time.Time
}

// messageFromWire converts a wire message; zone-less timestamps are read in
// the server location loc.
func messageFromWire(m v1.PrivateMessage, loc *time.Location) Message {
	return Message{
		Body:        m.Content,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		RecipientID: m.RecipientID,
		CreatedAt:   m.CreatedAt.Instant(loc),
	}
}

// OnlineSet maps peer id to a server-defined presence marker.
type OnlineSet map[string]string

// Has reports whether id is online.
func (o OnlineSet) Has(id string) bool {
	_, ok := o[id]
	return ok
}

// Aggregate is the derived per-peer summary.
// A zero LastMessageAt means no message has been seen for the peer.
type Aggregate struct {
	Unread        int
	LastMessageAt time.Time
}

// Notice announces a message from a peer that is not the active one.
type Notice struct {
	PeerID     string
	SenderName string
	Body       string
	At         time.Time
}

// FetchResult reports how a history fetch started by SelectPeer ended.
type FetchResult struct {
	PeerID   string
	Messages int

	// Stale is set when the selection changed before the fetch resolved and
	// the result was discarded.
	Stale bool
	Err   error
}

// Snapshot is a read-only copy of State.
type Snapshot struct {
	Self       Self
	Online     OnlineSet
	Aggregates map[string]Aggregate
	ActivePeer string
	ActiveLog  []Message
	Joined     bool
}

// Directory lists peers and the initial online set.
type Directory interface {
	ListPeers(ctx context.Context) ([]v1.User, error)
	ListOnlinePeers(ctx context.Context) (v1.PresenceSnapshot, error)
}

// History fetches a conversation, oldest first.
type History interface {
	GetHistory(ctx context.Context, selfID, peerID string) ([]v1.PrivateMessage, error)
}

// Publisher hands outbound messages to the presence channel. It must not
// block on the network and reports nothing back.
type Publisher interface {
	Send(p v1.SendPayload)
}
