// Package realtime owns the presence channel: the single long-lived STOMP
// connection that announces the local subject, receives presence snapshots
// and private messages, and publishes outbound private messages.
//
// The channel's lifetime is bound to the authenticated session (see Binding),
// never to what the console is currently showing.
package realtime
