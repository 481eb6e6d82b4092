package store

import "github.com/IvanBrykalov/swipedeck/record"

// entryOverhead approximates the bookkeeping cost of an entry itself
// (links, counters, map slot), charged on top of the payload.
const entryOverhead = 96

// entry is an intrusive doubly linked list element owned by the store.
// It wraps a candidate record with cache metadata.
type entry struct {
	id string

	// rec holds the raw record; zero while compressed.
	rec record.Record
	// payload holds the S2-compressed JSON encoding while compressed.
	payload    []byte
	compressed bool

	// rawSize is the estimate of rec; size is what is currently charged
	// against the budget (rawSize or len(payload), plus overhead).
	rawSize int64
	size    int64

	// Insertion rank, monotonic across the store's lifetime.
	rank int64
	// Position in the current sequence; -1 when detached.
	slot int

	createdAt  int64
	lastAccess int64

	// pending is the decision of an outstanding optimistic update (0 = none).
	// A pending entry is out of the browsable sequence and is never evicted.
	pending record.Decision

	// Recency list links: head is MRU, tail is LRU.
	prev *entry
	next *entry
}

// ID is part of policy.Node.
func (e *entry) ID() string { return e.id }

// Rank is part of policy.Node.
func (e *entry) Rank() int64 { return e.rank }

// Pinned is part of policy.Node.
func (e *entry) Pinned() bool { return e.pending != 0 }

func (e *entry) browsable() bool { return e.pending == 0 }
