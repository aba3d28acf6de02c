package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pacschat/cmd/security/token"
)

// Watcher observes session transitions. Watchers run synchronously, in
// registration order, and must not call back into Login or Logout.
type Watcher func(Transition)

// Manager owns the current Session and its persisted credential.
//
// Login and Logout are serialized; watchers see transitions in the order
// they happened.
type Manager struct {
	log     *slog.Logger
	decoder Decoder
	store   CredentialStore
	nav     Navigator
	now     func() time.Time

	// op serializes Login/Logout/Restore including watcher delivery.
	op sync.Mutex

	mu         sync.RWMutex
	current    *Session
	credential string
	watchers   []Watcher
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithNavigator sets the redirect target for Login/Logout.
func WithNavigator(nav Navigator) ManagerOption {
	return func(m *Manager) { m.nav = nav }
}

// NewManager constructs a Manager with no current session.
func NewManager(log *slog.Logger, decoder Decoder, store CredentialStore, opts ...ManagerOption) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:     log,
		decoder: decoder,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Watch registers fn for future transitions.
func (m *Manager) Watch(fn Watcher) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

// Current returns a copy of the current session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Credential returns the bearer credential of the current session, or "".
func (m *Manager) Credential() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credential
}

// Restore decodes the persisted credential, if any, and installs it as the
// current session. A credential that fails to decode is removed from the store;
// the caller simply ends up unauthenticated.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	m.op.Lock()
	defer m.op.Unlock()

	cred, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoCredential) {
		m.log.Info("session.restore.none")
		return false, nil
	}
	if err != nil {
		// An unreadable credential (e.g. sealed with another passphrase) is
		// treated like a corrupt one.
		m.log.Warn("session.restore.load_failed", "err", err)
		m.discardStored(ctx)
		return false, nil
	}

	s, err := m.decoder.Decode(cred, m.now())
	if err != nil {
		m.log.Info("session.restore.rejected", "err", err, "fingerprint", token.Fingerprint(cred))
		m.discardStored(ctx)
		return false, nil
	}

	m.install(&s, cred)
	m.log.Info("session.restore.ok", "subject_id", s.SubjectID, "role", s.Role, "exp", s.ExpiresAt)
	return true, nil
}

// Login decodes credential, persists it, replaces the current session and
// redirects by role. A decode failure is returned unchanged and leaves the
// current state untouched; it is never retried.
func (m *Manager) Login(ctx context.Context, credential string) (Landing, error) {
	m.op.Lock()
	defer m.op.Unlock()

	s, err := m.decoder.Decode(credential, m.now())
	if err != nil {
		m.log.Info("session.login.rejected", "err", err, "fingerprint", token.Fingerprint(credential))
		return "", err
	}

	if err := m.store.Save(ctx, credential); err != nil {
		m.log.Error("session.login.persist_failed", "err", err)
		return "", fmt.Errorf("persist credential: %w", err)
	}

	m.install(&s, credential)

	to := LandingFor(s)
	m.log.Info("session.login", "subject_id", s.SubjectID, "role", s.Role, "landing", string(to))
	m.navigate(to)
	return to, nil
}

// Logout removes the persisted credential, clears the session (which tears
// the presence channel down through watchers) and redirects to login.
// A store failure is reported after the in-memory teardown has completed.
func (m *Manager) Logout(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	removeErr := m.store.Remove(ctx)
	if removeErr != nil {
		m.log.Error("session.logout.remove_failed", "err", removeErr)
	}

	prev, had := m.Current()
	m.install(nil, "")
	if had {
		m.log.Info("session.logout", "subject_id", prev.SubjectID)
	}

	m.navigate(LandingLogin)

	if removeErr != nil {
		return fmt.Errorf("remove credential: %w", removeErr)
	}
	return nil
}

// install swaps the current session and notifies watchers. Callers hold m.op.
func (m *Manager) install(next *Session, credential string) {
	m.mu.Lock()
	prev := m.current
	m.current = next
	m.credential = credential
	watchers := append([]Watcher(nil), m.watchers...)
	m.mu.Unlock()

	if prev == nil && next == nil {
		return
	}

	tr := Transition{Prev: prev, Next: next}
	for _, w := range watchers {
		w(tr)
	}
}

func (m *Manager) discardStored(ctx context.Context) {
	if err := m.store.Remove(ctx); err != nil {
		m.log.Warn("session.restore.remove_failed", "err", err)
	}
}

func (m *Manager) navigate(to Landing) {
	if m.nav != nil {
		m.nav.Navigate(to)
	}
}
