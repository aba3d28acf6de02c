package conversation

import (
	"slices"
	"time"
)

// orderPeers sorts peers by last activity, newest first. Peers without
// activity follow in their original relative order.
func orderPeers(peers []Peer, last map[string]time.Time) []Peer {
	out := slices.Clone(peers)
	slices.SortStableFunc(out, func(a, b Peer) int {
		ta, tb := last[a.ID], last[b.ID]
		switch {
		case ta.IsZero() && tb.IsZero():
			return 0
		case ta.IsZero():
			return 1
		case tb.IsZero():
			return -1
		default:
			return tb.Compare(ta)
		}
	})
	return out
}

// insertOrdered places m after every entry not later than it, so equal
// instants keep arrival order.
func insertOrdered(log []Message, m Message) []Message {
	i, _ := slices.BinarySearchFunc(log, m.CreatedAt, func(e Message, t time.Time) int {
		if e.CreatedAt.After(t) {
			return 1
		}
		return -1
	})
	return slices.Insert(log, i, m)
}
