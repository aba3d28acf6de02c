package realtime

import "time"

const (
	// Max bytes per websocket message read. Presence snapshots carry the
	// whole online set, so this is larger than a single chat frame.
	maxFrameBytes = 1 << 20

	// Default fixed delay between reconnect attempts.
	defaultReconnectDelay = 5 * time.Second

	// Default bound on dial + STOMP CONNECT.
	defaultDialTimeout = 10 * time.Second

	// STOMP heart-beat, both directions. Zero disables.
	defaultHeartbeat = 10 * time.Second

	// Bound on a graceful DISCONNECT before the socket is dropped.
	disconnectTimeout = 2 * time.Second

	// Buffered deliveries per subscription.
	subscriptionBuffer = 64
)
