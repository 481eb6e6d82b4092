// Package policy defines the contract between the candidate store and its
// eviction ordering strategy.
package policy

// Node is the minimal view of a store entry a policy needs.
type Node interface {
	// ID returns the candidate id.
	ID() string
	// Rank returns the insertion rank (monotonic, lower = older).
	Rank() int64
	// Pinned reports whether the entry must not be evicted
	// (it carries a pending optimistic decision).
	Pinned() bool
}

// Hooks expose O(1) operations on the store's recency list
// (front = most recently accessed, back = least recently accessed).
//
// Concurrency: all hook calls happen under the store lock.
// Hooks manage only the list; the store owns the id->entry map.
type Hooks interface {
	// MoveToFront marks the node as most recently accessed.
	MoveToFront(Node)
	// PushFront links a newly admitted node at the front.
	PushFront(Node)
	// Remove unlinks the node.
	Remove(Node)
	// Back returns the least recently accessed node (or nil).
	Back() Node
	// Prev returns the node one step closer to the front (or nil).
	Prev(Node) Node
	// Len returns the number of linked nodes.
	Len() int
}

// Instance is a store-local policy bound to the store's hooks.
// All methods are invoked under the store lock.
//
// Semantics:
//   - OnAdmit places a new node.
//   - OnAccess is called on every read that touches the node.
//   - OnRemove is a notification; the store performs the unlink.
//   - Victim proposes the next entry to evict, or nil when every
//     remaining entry is pinned.
type Instance interface {
	OnAdmit(Node)
	OnAccess(Node)
	OnRemove(Node)
	Victim() Node
}

// Policy is a factory that binds an Instance to a store's hooks.
type Policy interface {
	New(Hooks) Instance
}
