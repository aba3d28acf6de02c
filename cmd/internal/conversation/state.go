package conversation

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"pacschat/cmd/internal/telemetry"
	v1 "pacschat/shared/contracts/chat/v1"
)

const noticeBuffer = 32

// Option configures a State.
type Option func(*State)

// WithClock overrides the time source for optimistic sends.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServerLocation sets the zone the server writes zone-less timestamps
// in. The default is time.Local.
func WithServerLocation(loc *time.Location) Option {
	return func(s *State) {
		if loc != nil {
			s.serverLoc = loc
		}
	}
}

// WithMetrics records history fetch outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *State) { s.metrics = m }
}

// State is the per-session conversation model.
//
// Inbound handlers run on the presence channel goroutine; actions run on the
// caller's. A single mutex serializes both, and every mutation is followed
// by a coalesced signal on Changes.
type State struct {
	log     *slog.Logger
	dir     Directory
	hist    History
	pub     Publisher
	metrics *telemetry.Metrics
	now     func() time.Time

	serverLoc *time.Location

	mu     sync.Mutex
	self   Self
	peers  []Peer
	online OnlineSet
	aggs   map[string]Aggregate
	joined bool

	active    string
	activeLog []Message

	// selection increments on every select, deselect and reset; a fetch
	// result is applied only if it still matches.
	selection uint64

	// presenceSeq counts pushed snapshots so a slow initial snapshot never
	// overwrites a newer broadcast.
	presenceSeq uint64

	changes chan struct{}
	notices chan Notice
}

// NewState constructs an empty State.
func NewState(log *slog.Logger, dir Directory, hist History, pub Publisher, opts ...Option) *State {
	if log == nil {
		log = slog.Default()
	}
	s := &State{
		log:     log,
		dir:     dir,
		hist:    hist,
		pub:     pub,
		now:     func() time.Time { return time.Now().UTC() },
		online:  OnlineSet{},
		aggs:    map[string]Aggregate{},
		changes: make(chan struct{}, 1),
		notices: make(chan Notice, noticeBuffer),

		serverLoc: time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Changes signals after state mutations. Signals coalesce; readers should
// take a fresh Snapshot on each receive.
func (s *State) Changes() <-chan struct{} { return s.changes }

// Notices delivers one Notice per message from an inactive peer. Notices
// are dropped when nobody keeps up.
func (s *State) Notices() <-chan Notice { return s.notices }

// Activate binds the state to self, loads the peer directory (excluding
// self) and applies the initial online snapshot. Later presence updates
// arrive through HandlePresence only.
func (s *State) Activate(ctx context.Context, self Self) error {
	if strings.TrimSpace(self.ID) == "" {
		return fmt.Errorf("%w: empty subject", ErrNotActivated)
	}

	s.mu.Lock()
	s.self = self
	seq := s.presenceSeq
	s.mu.Unlock()

	users, err := s.dir.ListPeers(ctx)
	if err != nil {
		s.log.Warn("conversation.directory.fail", "err", err)
		return fmt.Errorf("list peers: %w", err)
	}

	peers := make([]Peer, 0, len(users))
	for _, u := range users {
		if u.UserID == "" || u.UserID == self.ID {
			continue
		}
		peers = append(peers, Peer{ID: u.UserID, DisplayName: u.Username, Role: u.UserRole})
	}

	s.mu.Lock()
	if s.self.ID != self.ID {
		// Reset or another activation won the race.
		s.mu.Unlock()
		return nil
	}
	s.peers = peers
	s.mu.Unlock()
	s.notify()

	online, err := s.dir.ListOnlinePeers(ctx)
	if err != nil {
		s.log.Warn("conversation.online.fail", "err", err)
		return fmt.Errorf("list online peers: %w", err)
	}

	s.mu.Lock()
	applied := s.self.ID == self.ID && s.presenceSeq == seq
	if applied {
		s.online = OnlineSet(maps.Clone(online))
	}
	s.mu.Unlock()

	s.log.Info("conversation.activate",
		"subject_id", self.ID,
		"peers", len(peers),
		"online", len(online),
		"initial_snapshot_applied", applied,
	)
	if applied {
		s.notify()
	}
	return nil
}

// Peers returns the directory in fetch order.
func (s *State) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.peers)
}

// Peer looks a directory entry up by id.
func (s *State) Peer(id string) (Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// OrderedPeers yields the directory by last activity, newest first; peers
// without activity keep their directory order at the end. Each iteration
// reads the state afresh.
func (s *State) OrderedPeers() iter.Seq[Peer] {
	return func(yield func(Peer) bool) {
		s.mu.Lock()
		peers := slices.Clone(s.peers)
		last := make(map[string]time.Time, len(s.aggs))
		for id, a := range s.aggs {
			last[id] = a.LastMessageAt
		}
		s.mu.Unlock()

		for _, p := range orderPeers(peers, last) {
			if !yield(p) {
				return
			}
		}
	}
}

// SelectPeer makes peerID active, clears its unread count immediately and
// fetches its history. The returned channel yields exactly one result. A
// fetch that resolves after the selection changed is discarded.
func (s *State) SelectPeer(ctx context.Context, peerID string) <-chan FetchResult {
	out := make(chan FetchResult, 1)

	s.mu.Lock()
	s.selection++
	gen := s.selection
	s.active = peerID
	s.activeLog = nil
	a := s.aggs[peerID]
	a.Unread = 0
	s.aggs[peerID] = a
	selfID := s.self.ID
	s.mu.Unlock()
	s.notify()

	if selfID == "" {
		out <- FetchResult{PeerID: peerID, Err: ErrNotActivated}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		msgs, err := s.hist.GetHistory(ctx, selfID, peerID)
		out <- s.applyHistory(gen, peerID, msgs, err)
	}()
	return out
}

func (s *State) applyHistory(gen uint64, peerID string, msgs []v1.PrivateMessage, err error) FetchResult {
	s.mu.Lock()
	if gen != s.selection || s.active != peerID {
		s.mu.Unlock()
		s.log.Info("history.discard.stale", "peer_id", peerID)
		s.metrics.HistoryFetch("stale")
		return FetchResult{PeerID: peerID, Stale: true, Err: err}
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("history.fetch.fail", "peer_id", peerID, "err", err)
		s.metrics.HistoryFetch("error")
		return FetchResult{PeerID: peerID, Err: err}
	}

	entries := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, messageFromWire(m, s.serverLoc))
	}
	slices.SortStableFunc(entries, func(a, b Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	s.activeLog = entries
	if n := len(entries); n > 0 {
		s.touch(peerID, entries[n-1].CreatedAt)
	}
	s.mu.Unlock()

	s.metrics.HistoryFetch("applied")
	s.log.Debug("history.apply", "peer_id", peerID, "messages", len(entries))
	s.notify()
	return FetchResult{PeerID: peerID, Messages: len(entries)}
}

// DeselectPeer clears the active peer and its log. A pending fetch is
// discarded when it resolves.
func (s *State) DeselectPeer() {
	s.mu.Lock()
	s.selection++
	s.active = ""
	s.activeLog = nil
	s.mu.Unlock()
	s.notify()
}

// Send appends the message to the end of the active log (when recipientID
// is active), sets the peer's last activity to the send instant and hands
// the message to the publisher. The local update
// happens first and is never rolled back; delivery is at-most-once.
func (s *State) Send(body, recipientID string) error {
	if strings.TrimSpace(recipientID) == "" {
		return ErrUnknownPeer
	}

	s.mu.Lock()
	self := s.self
	if self.ID == "" {
		s.mu.Unlock()
		return ErrNotActivated
	}
	p := v1.SendPayload{
		Content:     body,
		SenderID:    self.ID,
		SenderName:  self.DisplayName,
		RecipientID: recipientID,
	}
	if err := p.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	m := Message{
		Body:        body,
		SenderID:    self.ID,
		SenderName:  self.DisplayName,
		RecipientID: recipientID,
		CreatedAt:   s.now(),
	}
	if recipientID == s.active {
		s.activeLog = append(s.activeLog, m)
	}
	a := s.aggs[recipientID]
	a.LastMessageAt = m.CreatedAt
	s.aggs[recipientID] = a
	s.mu.Unlock()
	s.notify()

	s.pub.Send(p)
	return nil
}

// HandlePrivate folds one private-mailbox delivery into the state.
func (s *State) HandlePrivate(wire v1.PrivateMessage) {
	m := messageFromWire(wire, s.serverLoc)

	s.mu.Lock()
	peer := m.SenderID
	own := s.self.ID != "" && m.SenderID == s.self.ID
	if own {
		// Our own message echoed from another session.
		peer = m.RecipientID
	}
	s.touch(peer, m.CreatedAt)

	active := peer == s.active
	if active {
		s.activeLog = insertOrdered(s.activeLog, m)
	} else if !own {
		a := s.aggs[peer]
		a.Unread++
		s.aggs[peer] = a
	}
	s.mu.Unlock()

	if !active && !own {
		s.notice(Notice{PeerID: peer, SenderName: m.SenderName, Body: m.Body, At: m.CreatedAt})
	}
	s.notify()
}

// HandlePresence replaces the online set wholesale.
func (s *State) HandlePresence(snap v1.PresenceSnapshot) {
	s.mu.Lock()
	s.online = OnlineSet(maps.Clone(snap))
	if s.online == nil {
		s.online = OnlineSet{}
	}
	s.presenceSeq++
	s.mu.Unlock()
	s.notify()
}

// HandleJoinAck records that the server lists the local subject as online.
func (s *State) HandleJoinAck(ack v1.JoinAck) {
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	s.log.Info("conversation.joined", "subject_id", ack.SubjectID, "at", ack.At)
	s.notify()
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Self:       s.self,
		Online:     maps.Clone(s.online),
		Aggregates: maps.Clone(s.aggs),
		ActivePeer: s.active,
		ActiveLog:  slices.Clone(s.activeLog),
		Joined:     s.joined,
	}
}

// Reset discards everything, including the identity. Pending fetches are
// discarded when they resolve.
func (s *State) Reset() {
	s.mu.Lock()
	s.self = Self{}
	s.peers = nil
	s.online = OnlineSet{}
	s.aggs = map[string]Aggregate{}
	s.joined = false
	s.active = ""
	s.activeLog = nil
	s.selection++
	s.mu.Unlock()

drain:
	for {
		select {
		case <-s.notices:
		default:
			break drain
		}
	}
	s.log.Info("conversation.reset")
	s.notify()
}

// touch raises the peer's last activity to at. Callers hold s.mu.
func (s *State) touch(peerID string, at time.Time) {
	if at.IsZero() {
		return
	}
	a := s.aggs[peerID]
	if at.After(a.LastMessageAt) {
		a.LastMessageAt = at
		s.aggs[peerID] = a
	}
}

func (s *State) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *State) notice(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Debug("conversation.notice.dropped", "peer_id", n.PeerID)
	}
}
