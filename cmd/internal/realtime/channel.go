package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pacschat/cmd/internal/auth/session"
	"pacschat/cmd/internal/telemetry"
	v1 "pacschat/shared/contracts/chat/v1"
)

// Handler consumes decoded inbound traffic. Calls are made from a single
// goroutine, in receipt order per address, and never concurrently.
type Handler interface {
	HandlePresence(snapshot v1.PresenceSnapshot)
	HandlePrivate(msg v1.PrivateMessage)
	HandleJoinAck(ack v1.JoinAck)
}

// ChannelConfig tunes reconnect behavior. Zero values pick the defaults.
type ChannelConfig struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithMetrics records connection and delivery counters.
func WithMetrics(m *telemetry.Metrics) ChannelOption {
	return func(c *Channel) { c.metrics = m }
}

// WithChannelClock overrides the time source used for join acks and ids.
func WithChannelClock(now func() time.Time) ChannelOption {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// Channel is the process-wide presence connection.
//
// At most one connection loop exists at any time. Open starts it, Close
// stops it; while it runs it reconnects with a fixed delay and re-announces
// the local subject after every connect.
type Channel struct {
	log       *slog.Logger
	transport Transport
	handler   Handler
	metrics   *telemetry.Metrics
	cfg       ChannelConfig
	now       func() time.Time

	// lifecycle serializes Open and Close.
	lifecycle sync.Mutex
	loop      *connLoop

	mu   sync.Mutex
	conn Conn

	connected atomic.Bool
	joined    atomic.Bool
}

type connLoop struct {
	session session.Session
	creds   Credentials
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannel constructs a closed Channel.
func NewChannel(log *slog.Logger, transport Transport, handler Handler, cfg ChannelConfig, opts ...ChannelOption) *Channel {
	if log == nil {
		log = slog.Default()
	}
	c := &Channel{
		log:       log,
		transport: transport,
		handler:   handler,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Open starts the connection loop for s. It is a no-op when a loop already
// runs for the same session. A loop for a different session is stopped
// first, so two connections never coexist.
func (c *Channel) Open(s session.Session, credential string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.loop != nil {
		if c.loop.session.Same(s) {
			c.log.Debug("presence.open.noop", "subject_id", s.SubjectID)
			return
		}
		c.stopLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &connLoop{
		session: s,
		creds:   Credentials{SubjectID: s.SubjectID, Bearer: credential},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.loop = l

	c.log.Info("presence.open", "subject_id", s.SubjectID)
	go c.run(ctx, l)
}

// Close stops the connection loop and waits for it to exit. Idempotent.
func (c *Channel) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.loop == nil {
		return
	}
	c.stopLocked()
}

func (c *Channel) stopLocked() {
	l := c.loop
	c.loop = nil
	l.cancel()
	<-l.done
	c.log.Info("presence.close", "subject_id", l.session.SubjectID)
}

// Connected reports whether a transport connection is currently up.
func (c *Channel) Connected() bool { return c.connected.Load() }

// Joined reports whether the server has listed the local subject as online
// since the current connection was established.
func (c *Channel) Joined() bool { return c.joined.Load() }

// Send publishes a private message and returns immediately. Delivery is
// at-most-once: while disconnected the message is dropped and counted, and
// publish failures are never reported to the caller.
func (c *Channel) Send(p v1.SendPayload) {
	if err := p.Validate(); err != nil {
		c.log.Warn("presence.send.invalid", "recipient_id", p.RecipientID, "err", err)
		c.metrics.SendDropped()
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.log.Warn("presence.send.dropped", "recipient_id", p.RecipientID, "reason", "disconnected")
		c.metrics.SendDropped()
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		c.log.Error("presence.send.encode_failed", "err", err)
		c.metrics.SendDropped()
		return
	}
	if err := conn.Publish(v1.AddressSend, body); err != nil {
		c.log.Warn("presence.send.dropped", "recipient_id", p.RecipientID, "reason", "publish failed", "err", err)
		c.metrics.SendDropped()
		return
	}
	c.metrics.Sent()
}

func (c *Channel) run(ctx context.Context, l *connLoop) {
	defer close(l.done)

	for {
		c.serve(ctx, l)
		if ctx.Err() != nil {
			return
		}

		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// serve runs one connection: dial, subscribe, join, pump until loss.
func (c *Channel) serve(ctx context.Context, l *connLoop) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.transport.Dial(dialCtx, l.creds)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("presence.dial.fail", "subject_id", l.creds.SubjectID, "retry_in", c.cfg.ReconnectDelay.String(), "err", err)
			c.metrics.DialFailed()
		}
		return
	}

	self := l.creds.SubjectID
	log := c.log.With("conn_id", NewConnID(c.now()), "subject_id", self)

	private, err := conn.Subscribe(v1.PrivateQueue(self))
	if err != nil {
		log.Warn("presence.subscribe.fail", "destination", v1.PrivateQueue(self), "err", err)
		_ = conn.Close()
		return
	}
	presence, err := conn.Subscribe(v1.AddressPresence)
	if err != nil {
		log.Warn("presence.subscribe.fail", "destination", v1.AddressPresence, "err", err)
		_ = private.Unsubscribe()
		_ = conn.Close()
		return
	}

	c.attach(conn)
	c.metrics.Connected()
	log.Info("presence.connect")

	reason := "closed"
	defer func() {
		c.detach()
		_ = private.Unsubscribe()
		_ = presence.Unsubscribe()
		_ = conn.Close()
		c.metrics.Disconnected()
		log.Info("presence.disconnect", "reason", reason)
	}()

	if err := publishJoin(conn, l.session); err != nil {
		reason = "join failed"
		log.Warn("presence.join.fail", "err", err)
		return
	}
	c.metrics.Joined()
	log.Info("presence.join.publish")

	acked := false
	privC, presC := private.C(), presence.C()
	for {
		var (
			d  Delivery
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case d, ok = <-privC:
		case d, ok = <-presC:
		}

		if !ok || d.Err != nil {
			reason = "transport lost"
			if d.Err != nil {
				log.Warn("presence.transport.lost", "err", d.Err)
			}
			return
		}
		c.dispatch(log, d, self, &acked)
	}
}

func (c *Channel) dispatch(log *slog.Logger, d Delivery, self string, acked *bool) {
	in, err := v1.DecodeInbound(d.Destination, d.Body)
	if err != nil {
		log.Warn("presence.decode.fail", "destination", d.Destination, "bytes", len(d.Body), "err", err)
		c.metrics.DecodeFailed()
		return
	}
	c.metrics.Delivered(in.Kind.String())

	switch in.Kind {
	case v1.KindPresenceSnapshot:
		c.handler.HandlePresence(in.Presence)

		if *acked {
			return
		}
		if _, listed := in.Presence[self]; !listed {
			return
		}
		*acked = true
		c.joined.Store(true)
		c.metrics.Delivered(v1.KindJoinAck.String())
		log.Info("presence.join.ack", "online", len(in.Presence))
		c.handler.HandleJoinAck(v1.JoinAck{SubjectID: self, At: c.now()})

	case v1.KindPrivateMessage:
		c.handler.HandlePrivate(in.Message)
	}
}

func publishJoin(conn Conn, s session.Session) error {
	p := v1.JoinPayload{
		UserID:   s.SubjectID,
		Username: s.DisplayName,
		UserRole: s.Role,
	}
	if err := p.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return conn.Publish(v1.AddressJoin, body)
}

func (c *Channel) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.connected.Store(false)
	c.joined.Store(false)
}
