package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	v1 "pacschat/shared/contracts/chat/v1"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type consoleHarness struct {
	env  *testEnv
	out  *syncBuffer
	in   *io.PipeWriter
	done chan error
}

func startConsole(t *testing.T) *consoleHarness {
	t.Helper()

	env := newTestEnv(t)
	pr, pw := io.Pipe()
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	h := &consoleHarness{env: env, out: out, in: pw, done: make(chan error, 1)}
	go func() { h.done <- NewConsole(env.app, pr, out).Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = pw.Close()
	})
	return h
}

func (h *consoleHarness) typeLine(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.in, line+"\n"); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func (h *consoleHarness) waitOutput(t *testing.T, want string) {
	t.Helper()
	waitFor(t, "output "+want, func() bool { return strings.Contains(h.out.String(), want) })
}

func TestConsole_ChatFlow(t *testing.T) {
	t.Parallel()

	h := startConsole(t)
	h.waitOutput(t, "not signed in")

	h.typeLine(t, "/login alice")
	h.typeLine(t, "secret")
	h.waitOutput(t, "── signed in ──")

	conn := h.env.transport.next(t)
	st := h.env.app.State()
	waitFor(t, "directory", func() bool { return len(st.Peers()) == 2 })
	waitFor(t, "online set", func() bool { return st.Snapshot().Online.Has("bob") })

	h.typeLine(t, "/peers")
	h.waitOutput(t, "● Bob (bob)")
	h.waitOutput(t, "○ Carol (carol)")

	h.typeLine(t, "/open bob")
	h.waitOutput(t, "conversation with Bob")
	h.waitOutput(t, "Bob: earlier from bob")

	h.typeLine(t, "hello bob")
	h.waitOutput(t, "me: hello bob")
	waitFor(t, "publish", func() bool { return len(conn.publishedTo(v1.AddressSend)) == 1 })

	var sent v1.SendPayload
	if err := json.Unmarshal(conn.publishedTo(v1.AddressSend)[0].body, &sent); err != nil {
		t.Fatalf("send body: %v", err)
	}
	if sent.Content != "hello bob" || sent.SenderID != "alice" || sent.RecipientID != "bob" {
		t.Fatalf("sent=%+v", sent)
	}

	conn.deliver(t, v1.PrivateQueue("alice"), map[string]string{
		"content":     "ping from carol",
		"senderId":    "carol",
		"senderName":  "Carol",
		"recipientId": "alice",
		"createdAt":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	h.waitOutput(t, "new message from Carol: ping from carol")

	h.typeLine(t, "/peers")
	waitFor(t, "unread badge", func() bool { return strings.Contains(h.out.String(), "Carol (carol)  1 ") })

	h.typeLine(t, "/quit")
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("console did not stop on /quit")
	}
}

func TestConsole_Errors(t *testing.T) {
	t.Parallel()

	h := startConsole(t)
	h.waitOutput(t, "not signed in")

	cases := []struct {
		line string
		want string
	}{
		{line: "/peers", want: "error: app: not authenticated"},
		{line: "/frobnicate", want: `unknown command "/frobnicate"`},
		{line: "/login", want: "usage: /login <user>"},
	}
	for _, tc := range cases {
		h.typeLine(t, tc.line)
		h.waitOutput(t, tc.want)
	}

	h.typeLine(t, "/login alice")
	h.typeLine(t, "secret")
	h.waitOutput(t, "── signed in ──")

	h.typeLine(t, "hi there")
	h.waitOutput(t, "no conversation open")

	h.typeLine(t, "/open nobody")
	h.waitOutput(t, "unknown peer")

	h.typeLine(t, "/logout")
	h.waitOutput(t, "logged out")
	if _, ok := h.env.app.Current(); ok {
		t.Fatalf("session must be cleared")
	}
}
