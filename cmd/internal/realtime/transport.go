package realtime

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by Conn operations after Close or transport loss.
var ErrConnClosed = errors.New("realtime: connection closed")

// Credentials identify the local subject to the transport.
type Credentials struct {
	SubjectID string
	Bearer    string
}

// Delivery is one inbound frame on a subscription. A non-nil Err means the
// transport was lost; no further deliveries follow.
type Delivery struct {
	Destination string
	Body        []byte
	Err         error
}

// Transport opens message-oriented connections with named publish and
// subscribe addresses.
type Transport interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// Conn is one established connection. Close is idempotent.
type Conn interface {
	Publish(destination string, body []byte) error
	Subscribe(destination string) (Subscription, error)
	Close() error
}

// Subscription delivers frames for one destination. C is closed after the
// subscription ends, either through Unsubscribe or transport loss.
type Subscription interface {
	C() <-chan Delivery
	Unsubscribe() error
}
