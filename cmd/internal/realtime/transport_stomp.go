package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
)

// DefaultWSURL is the raw WebSocket endpoint behind the server's SockJS
// registration at /ws.
const DefaultWSURL = "ws://localhost:8080/ws/websocket"

// STOMP subprotocols offered during the websocket handshake, newest first.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

var errUnsubscribeTimeout = errors.New("realtime: unsubscribe timed out")

// StompConfig configures StompTransport.
type StompConfig struct {
	URL       string
	Origin    string
	Heartbeat time.Duration
}

// StompTransport dials STOMP 1.2 over a websocket.
type StompTransport struct {
	log *slog.Logger
	cfg StompConfig
	url *url.URL
}

// NewStompTransport validates cfg and returns a transport.
func NewStompTransport(log *slog.Logger, cfg StompConfig) (*StompTransport, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultWSURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: ws url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("realtime: ws url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("realtime: ws url missing host")
	}
	if cfg.Heartbeat < 0 {
		cfg.Heartbeat = 0
	}
	return &StompTransport{log: log, cfg: cfg, url: u}, nil
}

// Dial implements Transport. The websocket handshake and the STOMP CONNECT
// exchange are both bounded by ctx.
func (t *StompTransport) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	h := http.Header{}
	if creds.Bearer != "" {
		h.Set("Authorization", "Bearer "+creds.Bearer)
	}
	if t.cfg.Origin != "" {
		h.Set("Origin", t.cfg.Origin)
	}

	ws, resp, err := websocket.Dial(ctx, t.url.String(), &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: stompSubprotocols,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("realtime: ws dial (status %d): %w", status, err)
	}
	ws.SetReadLimit(maxFrameBytes)

	// The net.Conn outlives the dial context; it is torn down by Close.
	connCtx, cancel := context.WithCancel(context.Background())
	nc := websocket.NetConn(connCtx, ws, websocket.MessageText)
	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(t.url.Hostname()),
		stomp.ConnOpt.HeartBeat(t.cfg.Heartbeat, t.cfg.Heartbeat),
	}
	if creds.Bearer != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+creds.Bearer))
	}

	sc, err := stomp.Connect(nc, opts...)
	if err != nil {
		cancel()
		_ = ws.Close(websocket.StatusProtocolError, "stomp connect failed")
		return nil, fmt.Errorf("realtime: stomp connect: %w", err)
	}
	_ = nc.SetDeadline(time.Time{})

	t.log.Debug("presence.transport.connected",
		"subprotocol", ws.Subprotocol(),
		"server", sc.Server(),
		"stomp_session", sc.Session(),
	)

	return &stompConn{
		ws:     ws,
		sc:     sc,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

type stompConn struct {
	ws     *websocket.Conn
	sc     *stomp.Conn
	cancel context.CancelFunc

	lost      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (c *stompConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return c.lost.Load()
	}
}

func (c *stompConn) Publish(destination string, body []byte) error {
	if c.closed() {
		return ErrConnClosed
	}
	if err := c.sc.Send(destination, "application/json", body); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", destination, err)
	}
	return nil
}

func (c *stompConn) Subscribe(destination string) (Subscription, error) {
	if c.closed() {
		return nil, ErrConnClosed
	}
	sub, err := c.sc.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("realtime: subscribe %s: %w", destination, err)
	}
	s := &stompSubscription{
		conn: c,
		dest: destination,
		sub:  sub,
		out:  make(chan Delivery, subscriptionBuffer),
		stop: make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

// Close sends DISCONNECT when the connection is still healthy, then drops
// the socket. Idempotent.
func (c *stompConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		lost := c.lost.Load()
		close(c.done)

		if lost {
			_ = c.sc.MustDisconnect()
		} else {
			errCh := make(chan error, 1)
			go func() { errCh <- c.sc.Disconnect() }()
			select {
			case err = <-errCh:
			case <-time.After(disconnectTimeout):
				err = c.sc.MustDisconnect()
			}
		}

		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	})
	return err
}

type stompSubscription struct {
	conn *stompConn
	dest string
	sub  *stomp.Subscription
	out  chan Delivery
	stop chan struct{}
	once sync.Once
}

func (s *stompSubscription) C() <-chan Delivery { return s.out }

// forward copies frames from the STOMP subscription until it ends.
// Deliveries carry the subscribed address: the server may rewrite the
// MESSAGE destination header for user queues.
func (s *stompSubscription) forward() {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-s.sub.C:
			if !ok {
				s.conn.lost.Store(true)
				s.emit(Delivery{Destination: s.dest, Err: ErrConnClosed})
				return
			}
			if msg.Err != nil {
				s.conn.lost.Store(true)
				s.emit(Delivery{Destination: s.dest, Err: msg.Err})
				return
			}
			if !s.emit(Delivery{Destination: s.dest, Body: msg.Body}) {
				return
			}
		}
	}
}

func (s *stompSubscription) emit(d Delivery) bool {
	select {
	case s.out <- d:
		return true
	case <-s.stop:
		return false
	}
}

// Unsubscribe stops delivery. UNSUBSCRIBE is only sent on a live
// connection, and never blocks longer than disconnectTimeout.
func (s *stompSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		if s.conn.closed() {
			return
		}

		errCh := make(chan error, 1)
		go func() { errCh <- s.sub.Unsubscribe() }()
		// Nobody reads sub.C past this point; keep it drained until the
		// library closes it.
		go func() {
			for range s.sub.C {
			}
		}()

		select {
		case err = <-errCh:
		case <-time.After(disconnectTimeout):
			err = errUnsubscribeTimeout
		}
	})
	return err
}
