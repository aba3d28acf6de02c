package realtime

import (
	"log/slog"

	"pacschat/cmd/internal/auth/session"
)

// Lifecycle is the part of Channel driven by session transitions.
type Lifecycle interface {
	Open(s session.Session, credential string)
	Close()
}

// SessionSource publishes session transitions and the current credential.
// *session.Manager satisfies it.
type SessionSource interface {
	Watch(fn session.Watcher)
	Credential() string
}

// Bind ties ch to the session lifecycle of src: a transition to a non-null
// session opens it, a transition to null closes it. Navigation never
// reaches it.
func Bind(log *slog.Logger, src SessionSource, ch Lifecycle) {
	if log == nil {
		log = slog.Default()
	}
	src.Watch(func(tr session.Transition) {
		switch {
		case tr.Next != nil:
			ch.Open(*tr.Next, src.Credential())
		case tr.Prev != nil:
			log.Debug("presence.binding.teardown", "subject_id", tr.Prev.SubjectID)
			ch.Close()
		}
	})
}
