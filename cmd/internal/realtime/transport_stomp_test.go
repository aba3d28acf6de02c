package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3/frame"

	v1 "pacschat/shared/contracts/chat/v1"
)

// stompServer is a minimal STOMP 1.2 broker over websocket. It answers a
// join on /app/chat.addUser with a presence snapshot listing the sender.
type stompServer struct {
	mu         sync.Mutex
	httpAuth   string
	stompAuth  string
	sends      []string
	dropOnSubs int // close the socket after this many SUBSCRIBE frames
}

func (s *stompServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"v12.stomp"}})
	if err != nil {
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	nc := websocket.NetConn(r.Context(), ws, websocket.MessageText)
	rd := frame.NewReader(nc)
	wr := frame.NewWriter(nc)

	read := func() (*frame.Frame, bool) {
		for {
			f, err := rd.Read()
			if err != nil {
				return nil, false
			}
			if f != nil {
				return f, true
			}
		}
	}

	f, ok := read()
	if !ok || (f.Command != frame.CONNECT && f.Command != frame.STOMP) {
		return
	}
	s.mu.Lock()
	s.httpAuth = r.Header.Get("Authorization")
	s.stompAuth = f.Header.Get("Authorization")
	s.mu.Unlock()

	if err := wr.Write(frame.New(frame.CONNECTED, frame.Version, "1.2", frame.HeartBeat, "0,0")); err != nil {
		return
	}

	subs := map[string]string{}
	msgID := 0
	for {
		f, ok := read()
		if !ok {
			return
		}
		switch f.Command {
		case frame.SUBSCRIBE:
			subs[f.Header.Get(frame.Destination)] = f.Header.Get(frame.Id)
			if s.dropOnSubs > 0 && len(subs) >= s.dropOnSubs {
				_ = ws.Close(websocket.StatusGoingAway, "server restart")
				return
			}

		case frame.SEND:
			s.mu.Lock()
			s.sends = append(s.sends, f.Header.Get(frame.Destination))
			s.mu.Unlock()

			if f.Header.Get(frame.Destination) != v1.AddressJoin {
				continue
			}
			var join v1.JoinPayload
			if err := json.Unmarshal(f.Body, &join); err != nil {
				return
			}
			id, ok := subs[v1.AddressPresence]
			if !ok {
				continue
			}
			msgID++
			body, _ := json.Marshal(map[string]string{join.UserID: join.Username})
			m := frame.New(frame.MESSAGE,
				frame.Destination, v1.AddressPresence,
				frame.Subscription, id,
				frame.MessageId, "m-"+strconv.Itoa(msgID),
				frame.ContentType, "application/json",
			)
			m.Body = body
			if err := wr.Write(m); err != nil {
				return
			}

		case frame.DISCONNECT:
			if rc := f.Header.Get(frame.Receipt); rc != "" {
				_ = wr.Write(frame.New(frame.RECEIPT, frame.ReceiptId, rc))
			}
			return
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/websocket"
}

func TestStompTransport_JoinAndPresence(t *testing.T) {
	t.Parallel()

	backend := &stompServer{}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	tr, err := NewStompTransport(testLogger(), StompConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("NewStompTransport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := tr.Dial(ctx, Credentials{SubjectID: "staff-1", Bearer: "tok"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	sub, err := conn.Subscribe(v1.AddressPresence)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	body, _ := json.Marshal(v1.JoinPayload{UserID: "staff-1", Username: "Kim"})
	if err := conn.Publish(v1.AddressJoin, body); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d, ok := <-sub.C():
		if !ok || d.Err != nil {
			t.Fatalf("subscription ended: ok=%v err=%v", ok, d.Err)
		}
		if d.Destination != v1.AddressPresence {
			t.Fatalf("destination=%q", d.Destination)
		}
		in, err := v1.DecodeInbound(d.Destination, d.Body)
		if err != nil {
			t.Fatalf("DecodeInbound: %v", err)
		}
		if in.Presence["staff-1"] != "Kim" {
			t.Fatalf("presence=%v", in.Presence)
		}
	case <-ctx.Done():
		t.Fatalf("no presence delivery")
	}

	_ = conn.Close()
	_ = conn.Close()
	if err := conn.Publish(v1.AddressSend, []byte(`{}`)); err != ErrConnClosed {
		t.Fatalf("publish after close: err=%v want ErrConnClosed", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.httpAuth != "Bearer tok" || backend.stompAuth != "Bearer tok" {
		t.Fatalf("auth headers http=%q stomp=%q", backend.httpAuth, backend.stompAuth)
	}
	if len(backend.sends) != 1 || backend.sends[0] != v1.AddressJoin {
		t.Fatalf("sends=%v", backend.sends)
	}
}

func TestStompTransport_ServerDropEndsSubscription(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&stompServer{dropOnSubs: 1})
	t.Cleanup(srv.Close)

	tr, err := NewStompTransport(testLogger(), StompConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("NewStompTransport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := tr.Dial(ctx, Credentials{SubjectID: "staff-1"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	sub, err := conn.Subscribe(v1.AddressPresence)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case d, ok := <-sub.C():
		if ok && d.Err == nil {
			t.Fatalf("expected transport loss, got delivery %q", d.Body)
		}
	case <-ctx.Done():
		t.Fatalf("transport loss not observed")
	}
}

func TestStompTransport_DialRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	tr, err := NewStompTransport(testLogger(), StompConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("NewStompTransport: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := tr.Dial(ctx, Credentials{SubjectID: "x"}); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestNewStompTransport_ValidatesURL(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"http://x/ws", "ws://", "::"} {
		if _, err := NewStompTransport(testLogger(), StompConfig{URL: in}); err == nil {
			t.Fatalf("NewStompTransport(%q) expected error", in)
		}
	}
	tr, err := NewStompTransport(nil, StompConfig{})
	if err != nil {
		t.Fatalf("default url: %v", err)
	}
	if tr.url.String() != DefaultWSURL {
		t.Fatalf("url=%q want=%q", tr.url.String(), DefaultWSURL)
	}
}
