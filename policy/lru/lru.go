// Package lru implements least-recently-accessed eviction ordering.
package lru

import "github.com/IvanBrykalov/swipedeck/policy"

// lru is a classic "move-to-front" policy. Victims are taken from the back of
// the recency list; entries inserted together keep arrival order, so ties in
// access time fall back to insertion rank.
type lru struct {
	h policy.Hooks
}

type lruPolicy struct{}

// New returns a Policy factory that constructs LRU instances.
func New() policy.Policy { return lruPolicy{} }

// New implements policy.Policy.
func (lruPolicy) New(h policy.Hooks) policy.Instance { return &lru{h: h} }

// OnAdmit places the new entry at MRU.
func (p *lru) OnAdmit(n policy.Node) { p.h.PushFront(n) }

// OnAccess promotes the entry to MRU.
func (p *lru) OnAccess(n policy.Node) { p.h.MoveToFront(n) }

// OnRemove is a no-op for pure LRU.
func (p *lru) OnRemove(_ policy.Node) {}

// Victim walks from LRU towards MRU and returns the first unpinned node.
func (p *lru) Victim() policy.Node {
	for n := p.h.Back(); n != nil; n = p.h.Prev(n) {
		if !n.Pinned() {
			return n
		}
	}
	return nil
}
