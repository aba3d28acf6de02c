package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "pacschat/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	dest string
	body []byte
}

type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	fail    int // fail the next n dials
	conns   []*fakeConn
	dialled chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialled: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.fail > 0 {
		t.fail--
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{creds: creds, subs: map[string]*fakeSub{}}
	t.conns = append(t.conns, c)
	t.dialled <- c
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) next(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case c := <-t.dialled:
		return c
	case <-time.After(2 * time.Second):
		tb.Fatalf("no dial within deadline")
		return nil
	}
}

type fakeConn struct {
	creds Credentials

	mu        sync.Mutex
	published []published
	subs      map[string]*fakeSub
	closes    int
}

func (c *fakeConn) Publish(dest string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return ErrConnClosed
	}
	c.published = append(c.published, published{dest: dest, body: append([]byte(nil), body...)})
	return nil
}

func (c *fakeConn) Subscribe(dest string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSub{ch: make(chan Delivery, 16)}
	c.subs[dest] = s
	return s, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) publishedTo(dest string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, p := range c.published {
		if p.dest == dest {
			out = append(out, p)
		}
	}
	return out
}

func (c *fakeConn) sub(tb testing.TB, dest string) *fakeSub {
	tb.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[dest]
	if !ok {
		tb.Fatalf("no subscription for %q", dest)
	}
	return s
}

// deliver pushes a JSON body onto dest.
func (c *fakeConn) deliver(tb testing.TB, dest string, v any) {
	tb.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal: %v", err)
	}
	c.sub(tb, dest).ch <- Delivery{Destination: dest, Body: b}
}

// drop simulates transport loss on every subscription.
func (c *fakeConn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for dest, s := range c.subs {
		s.ch <- Delivery{Destination: dest, Err: errors.New("broken pipe")}
	}
}

type fakeSub struct {
	ch chan Delivery
	mu sync.Mutex
	n  int
}

func (s *fakeSub) C() <-chan Delivery { return s.ch }

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

type recordingHandler struct {
	mu       sync.Mutex
	presence []v1.PresenceSnapshot
	private  []v1.PrivateMessage
	acks     []v1.JoinAck
}

func (h *recordingHandler) HandlePresence(s v1.PresenceSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = append(h.presence, s)
}

func (h *recordingHandler) HandlePrivate(m v1.PrivateMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.private = append(h.private, m)
}

func (h *recordingHandler) HandleJoinAck(a v1.JoinAck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, a)
}

func (h *recordingHandler) counts() (presence, private, acks int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.presence), len(h.private), len(h.acks)
}

func waitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %s", what)
}
