// Package app wires the pacschat client runtime: config, logging, the
// session manager, the presence channel, conversation state, the console and
// the local status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pacschat/cmd/internal/auth/session"
	"pacschat/cmd/internal/backend"
	"pacschat/cmd/internal/conversation"
	"pacschat/cmd/internal/realtime"
	"pacschat/cmd/internal/telemetry"
	"pacschat/cmd/security/seal"
	v1 "pacschat/shared/contracts/chat/v1"
)

// ErrNotAuthenticated is returned by actions that need a session.
var ErrNotAuthenticated = errors.New("app: not authenticated")

// App is the client runtime. One App owns one session manager, one presence
// channel and one conversation state for the life of the process.
type App struct {
	cfg     Config
	log     Logger
	metrics *telemetry.Metrics

	api     *backend.Client
	session *session.Manager
	channel *realtime.Channel
	state   *conversation.State
	nav     *navRelay

	// bg scopes background work (activations); stop cancels it on Close.
	bg   context.Context
	stop context.CancelFunc

	actMu      sync.Mutex
	actCancel  context.CancelFunc
	activating sync.WaitGroup

	closed atomic.Bool
}

// options lets tests replace the network-facing parts.
type options struct {
	transport realtime.Transport
	store     session.CredentialStore
	http      *http.Client

	// detached skips the presence binding, for one-shot commands that only
	// manage the persisted credential.
	detached bool
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	return newApp(cfg, log, options{})
}

func newApp(cfg Config, log Logger, o options) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	decoder, err := session.NewDecoder(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session decoder: %w", err)
	}

	store := o.store
	if store == nil {
		store, err = newCredentialStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	transport := o.transport
	if transport == nil {
		transport, err = realtime.NewStompTransport(log, realtime.StompConfig{
			URL:       cfg.WSURL,
			Origin:    cfg.WSOrigin,
			Heartbeat: cfg.Heartbeat,
		})
		if err != nil {
			return nil, err
		}
	}

	hc := o.http
	if hc == nil {
		hc = &http.Client{Timeout: nonZeroDuration(cfg.HTTPTimeout, backend.DefaultTimeout)}
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: telemetry.New(),
		nav:     &navRelay{log: log},
	}
	a.bg, a.stop = context.WithCancel(context.Background())

	a.session = session.NewManager(log, decoder, store, session.WithNavigator(a.nav))

	a.api, err = backend.New(cfg.APIBaseURL,
		backend.WithHTTPClient(hc),
		backend.WithCredentials(a.session),
		backend.WithLogger(log),
	)
	if err != nil {
		a.stop()
		return nil, err
	}

	// State and Channel refer to each other; the relay breaks the cycle.
	out := &publishRelay{}
	a.state = conversation.NewState(log, a.api, a.api, out,
		conversation.WithMetrics(a.metrics),
		conversation.WithServerLocation(cfg.ServerLocation),
	)
	a.channel = realtime.NewChannel(log, transport, a.state,
		realtime.ChannelConfig{
			ReconnectDelay: cfg.ReconnectDelay,
			DialTimeout:    cfg.DialTimeout,
		},
		realtime.WithMetrics(a.metrics),
	)
	out.ch = a.channel

	// Watchers run in order. A user switch drops the old connection and
	// state before Bind opens the new loop; on logout Bind stops inbound
	// traffic before the state is discarded.
	if !o.detached {
		a.session.Watch(a.onSwitch)
		realtime.Bind(log, a.session, a.channel)
		a.session.Watch(a.onTransition)
	}

	return a, nil
}

func newCredentialStore(cfg Config) (session.CredentialStore, error) {
	var opts []session.FileOption
	if cfg.Seal.Enabled() {
		sealer, err := seal.New(cfg.Seal)
		if err != nil {
			return nil, fmt.Errorf("credential sealer: %w", err)
		}
		opts = append(opts, session.WithSealer(sealer))
	}
	return session.NewFileStore(cfg.Session.CredentialPath, opts...)
}

// Restore reinstates a persisted session, if it is still valid.
func (a *App) Restore(ctx context.Context) (bool, error) {
	ok, err := a.session.Restore(ctx)
	if ok {
		a.metrics.SessionTransition("restore")
	}
	return ok, err
}

// Login exchanges userID/password for a credential and installs it.
func (a *App) Login(ctx context.Context, userID, password string) (session.Landing, error) {
	cred, err := a.api.Authenticate(ctx, userID, password)
	if err != nil {
		return "", err
	}
	to, err := a.session.Login(ctx, cred)
	if err != nil {
		return "", err
	}
	a.metrics.SessionTransition("login")
	return to, nil
}

// Logout clears the session and its persisted credential.
func (a *App) Logout(ctx context.Context) error {
	_, had := a.session.Current()
	err := a.session.Logout(ctx)
	if had {
		a.metrics.SessionTransition("logout")
	}
	return err
}

// Current returns the current session.
func (a *App) Current() (session.Session, bool) { return a.session.Current() }

// State exposes the conversation state.
func (a *App) State() *conversation.State { return a.state }

// Ready reports whether a session exists and the presence channel is up.
func (a *App) Ready() (bool, string) {
	if _, ok := a.session.Current(); !ok {
		return false, "not authenticated"
	}
	if !a.channel.Connected() {
		return false, "presence not connected"
	}
	return true, ""
}

// Close tears the presence channel down and cancels background work.
// It does not touch the persisted credential. Idempotent.
func (a *App) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.stop()
	a.channel.Close()
	a.activating.Wait()
	a.log.Info("app.closed")
}

// onSwitch tears down the previous user's connection and state when a
// different user logs in, so nothing pushed to the new connection is lost
// to a later reset.
func (a *App) onSwitch(tr session.Transition) {
	if tr.Prev == nil || tr.Next == nil || tr.Prev.SubjectID == tr.Next.SubjectID {
		return
	}
	a.channel.Close()
	a.cancelActivation()
	a.state.Reset()
}

// onTransition keeps the conversation state in step with the session.
// It runs synchronously inside Login/Logout/Restore.
func (a *App) onTransition(tr session.Transition) {
	if tr.Next == nil {
		a.cancelActivation()
		a.state.Reset()
		return
	}
	a.activate(*tr.Next)
}

func (a *App) activate(s session.Session) {
	a.actMu.Lock()
	defer a.actMu.Unlock()

	if a.actCancel != nil {
		a.actCancel()
	}
	ctx, cancel := context.WithTimeout(a.bg, 2*nonZeroDuration(a.cfg.HTTPTimeout, backend.DefaultTimeout))
	a.actCancel = cancel

	self := conversation.Self{ID: s.SubjectID, DisplayName: s.DisplayName}
	a.activating.Add(1)
	go func() {
		defer a.activating.Done()
		defer cancel()
		if err := a.state.Activate(ctx, self); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("app.activate.fail", "subject_id", self.ID, "err", err)
		}
	}()
}

func (a *App) cancelActivation() {
	a.actMu.Lock()
	defer a.actMu.Unlock()
	if a.actCancel != nil {
		a.actCancel()
		a.actCancel = nil
	}
}

// publishRelay forwards outbound messages to the channel once it exists.
type publishRelay struct {
	ch *realtime.Channel
}

func (r *publishRelay) Send(p v1.SendPayload) {
	if r.ch != nil {
		r.ch.Send(p)
	}
}

// navRelay forwards session redirects to the attached view, if any.
type navRelay struct {
	log  Logger
	mu   sync.Mutex
	view session.Navigator
}

func (n *navRelay) attach(v session.Navigator) {
	n.mu.Lock()
	n.view = v
	n.mu.Unlock()
}

func (n *navRelay) Navigate(to session.Landing) {
	n.mu.Lock()
	v := n.view
	n.mu.Unlock()

	n.log.Debug("view.navigate", "to", string(to))
	if v != nil {
		v.Navigate(to)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
