// Package main provides a CI-friendly smoke test for the chat backend's
// presence and private messaging.
//
// It validates:
//   - credential exchange for two users
//   - websocket handshake + STOMP CONNECT with a bearer credential
//   - join announcement reflected in the presence broadcast
//   - private message delivery from A to B
//   - history fetch containing the delivered message
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "pacschat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	token  string

	ws   *websocket.Conn
	conn *stomp.Conn

	private  *stomp.Subscription
	presence *stomp.Subscription
}

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "REST base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws/websocket", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("a", "staff-a:password", "first user as id:password")
		userB   = flag.String("b", "staff-b:password", "second user as id:password")
		text    = flag.String("text", "hello from smoke 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateURL(*apiURL, "http", "https"); err != nil {
		fatalf("invalid -api: %v", err)
	}
	if err := validateURL(*wsURL, "ws", "wss"); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*origin) != "" {
		if err := validateURL(*origin, "http", "https"); err != nil {
			fatalf("invalid -origin: %v", err)
		}
	}

	root := context.Background()

	a := mustLogin(root, "A", *apiURL, *userA, *timeout)
	b := mustLogin(root, "B", *apiURL, *userB, *timeout)

	mustConnect(root, a, *wsURL, *origin, *timeout)
	defer a.close()
	mustConnect(root, b, *wsURL, *origin, *timeout)
	defer b.close()

	if *verbose {
		fmt.Printf("connected: A=%s (stomp %s) B=%s (stomp %s)\n", a.userID, a.conn.Session(), b.userID, b.conn.Session())
	}

	mustJoin(a)
	mustJoin(b)

	snap := b.mustReadPresenceWith(*timeout, a.userID, b.userID)
	if *verbose {
		fmt.Printf("presence: %d online\n", len(snap))
	}

	mustSend(a, b.userID, *text)

	got := b.mustReadPrivate(*timeout)
	if got.SenderID != a.userID || got.RecipientID != b.userID || got.Content != *text {
		fatalf("private message mismatch: got=%+v", got)
	}
	if got.CreatedAt.IsZero() {
		fatalf("private message missing createdAt")
	}

	mustHistoryContains(root, *apiURL, b, a.userID, *text, *timeout)

	fmt.Printf("OK: A=%s B=%s online=%d created_at=%s\n", a.userID, b.userID, len(snap), got.CreatedAt.Format(time.RFC3339))
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustLogin(parent context.Context, name, apiURL, pair string, stepTimeout time.Duration) *smokeClient {
	userID, password, ok := strings.Cut(pair, ":")
	if !ok || strings.TrimSpace(userID) == "" {
		fatalf("user %s must be id:password", name)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var out v1.LoginResponse
	status := doJSON(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/api/auth/login", "", v1.LoginRequest{UserID: userID, Password: password}, &out)
	if status != http.StatusOK {
		fatalf("login %s: status=%d", name, status)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		fatalf("login %s: empty accessToken", name)
	}
	return &smokeClient{name: name, userID: userID, token: out.AccessToken}
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	ws, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}
	ws.SetReadLimit(maxReadBytes)
	c.ws = ws

	u, _ := url.Parse(wsURL)
	conn, err := stomp.Connect(websocket.NetConn(context.Background(), ws, websocket.MessageText),
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.HeartBeat(0, 0),
		stomp.ConnOpt.Header("Authorization", "Bearer "+c.token),
	)
	if err != nil {
		fatalf("stomp connect %s: %v", c.name, err)
	}
	c.conn = conn

	if c.private, err = conn.Subscribe(v1.PrivateQueue(c.userID), stomp.AckAuto); err != nil {
		fatalf("subscribe private %s: %v", c.name, err)
	}
	if c.presence, err = conn.Subscribe(v1.AddressPresence, stomp.AckAuto); err != nil {
		fatalf("subscribe presence %s: %v", c.name, err)
	}
}

func mustJoin(c *smokeClient) {
	body := mustJSON(v1.JoinPayload{UserID: c.userID, Username: c.userID})
	if err := c.conn.Send(v1.AddressJoin, "application/json", body); err != nil {
		fatalf("join %s: %v", c.name, err)
	}
}

func mustSend(c *smokeClient, recipientID, text string) {
	p := v1.SendPayload{Content: text, SenderID: c.userID, SenderName: c.userID, RecipientID: recipientID}
	if err := p.Validate(); err != nil {
		fatalf("send %s: %v", c.name, err)
	}
	if err := c.conn.Send(v1.AddressSend, "application/json", mustJSON(p)); err != nil {
		fatalf("send %s: %v", c.name, err)
	}
}

// mustReadPresenceWith waits for a presence snapshot listing every id in want.
func (c *smokeClient) mustReadPresenceWith(stepTimeout time.Duration, want ...string) v1.PresenceSnapshot {
	deadline := time.After(stepTimeout)
	for {
		select {
		case <-deadline:
			fatalf("timeout waiting for presence with %v (%s)", want, c.name)
		case msg, ok := <-c.presence.C:
			if !ok {
				fatalf("presence subscription closed (%s)", c.name)
			}
			if msg.Err != nil {
				fatalf("presence error (%s): %v", c.name, msg.Err)
			}
			in, err := v1.DecodeInbound(v1.AddressPresence, msg.Body)
			if err != nil {
				fatalf("bad presence frame (%s): %v", c.name, err)
			}
			all := true
			for _, id := range want {
				if _, ok := in.Presence[id]; !ok {
					all = false
				}
			}
			if all {
				return in.Presence
			}
		}
	}
}

func (c *smokeClient) mustReadPrivate(stepTimeout time.Duration) v1.PrivateMessage {
	select {
	case <-time.After(stepTimeout):
		fatalf("timeout waiting for private message (%s)", c.name)
	case msg, ok := <-c.private.C:
		if !ok {
			fatalf("private subscription closed (%s)", c.name)
		}
		if msg.Err != nil {
			fatalf("private error (%s): %v", c.name, msg.Err)
		}
		in, err := v1.DecodeInbound(v1.PrivateQueue(c.userID), msg.Body)
		if err != nil {
			fatalf("bad private frame (%s): %v", c.name, err)
		}
		return in.Message
	}
	panic("unreachable")
}

func mustHistoryContains(parent context.Context, apiURL string, c *smokeClient, peerID, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var msgs []v1.PrivateMessage
	path := "/api/chat/history/" + url.PathEscape(c.userID) + "/" + url.PathEscape(peerID)
	if status := doJSON(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+path, c.token, nil, &msgs); status != http.StatusOK {
		fatalf("history %s: status=%d", c.name, status)
	}
	for _, m := range msgs {
		if m.SenderID == peerID && m.Content == text {
			return
		}
	}
	fatalf("history missing expected message (%s, %d messages)", c.name, len(msgs))
}

func doJSON(ctx context.Context, method, target, token string, in, out any) int {
	var body io.Reader
	if in != nil {
		body = bytes.NewReader(mustJSON(in))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		fatalf("request %s %s: %v", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(out); err != nil {
			fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return resp.StatusCode
}

func (c *smokeClient) close() {
	if c.conn != nil {
		_ = c.conn.Disconnect()
	}
	if c.ws != nil {
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
