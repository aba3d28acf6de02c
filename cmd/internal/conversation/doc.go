// Package conversation folds presence-channel traffic and on-demand history
// fetches into the state the console renders: the online set, per-peer
// unread counts and last-activity instants, and the log of the active
// conversation.
//
// State holds nothing durable. It is rebuilt from server pushes for every
// session and discarded by Reset on logout.
package conversation
