package lru

import (
	"testing"

	"github.com/IvanBrykalov/swipedeck/policy"
)

// --- test doubles ---

type testNode struct {
	id     string
	rank   int64
	pinned bool
}

func (n *testNode) ID() string   { return n.id }
func (n *testNode) Rank() int64  { return n.rank }
func (n *testNode) Pinned() bool { return n.pinned }

// listHooks is a slice-backed recency list: index 0 is MRU.
type listHooks struct {
	nodes []policy.Node

	pushFrontCnt   int
	moveToFrontCnt int
	removeCnt      int
}

func (h *listHooks) index(n policy.Node) int {
	for i, x := range h.nodes {
		if x == n {
			return i
		}
	}
	return -1
}

func (h *listHooks) PushFront(n policy.Node) {
	h.pushFrontCnt++
	h.nodes = append([]policy.Node{n}, h.nodes...)
}

func (h *listHooks) MoveToFront(n policy.Node) {
	h.moveToFrontCnt++
	if i := h.index(n); i > 0 {
		h.nodes = append(h.nodes[:i], h.nodes[i+1:]...)
		h.nodes = append([]policy.Node{n}, h.nodes...)
	}
}

func (h *listHooks) Remove(n policy.Node) {
	h.removeCnt++
	if i := h.index(n); i >= 0 {
		h.nodes = append(h.nodes[:i], h.nodes[i+1:]...)
	}
}

func (h *listHooks) Back() policy.Node {
	if len(h.nodes) == 0 {
		return nil
	}
	return h.nodes[len(h.nodes)-1]
}

func (h *listHooks) Prev(n policy.Node) policy.Node {
	if i := h.index(n); i > 0 {
		return h.nodes[i-1]
	}
	return nil
}

func (h *listHooks) Len() int { return len(h.nodes) }

// --- tests ---

// OnAdmit should push the node to MRU exactly once.
func TestLRU_OnAdmit_PushFront(t *testing.T) {
	t.Parallel()

	h := &listHooks{}
	p := New().New(h)

	n := &testNode{id: "k1"}
	p.OnAdmit(n)

	if h.pushFrontCnt != 1 || h.nodes[0] != n {
		t.Fatalf("OnAdmit must call PushFront exactly once with the node")
	}
	if h.moveToFrontCnt != 0 || h.removeCnt != 0 {
		t.Fatalf("OnAdmit must not call MoveToFront/Remove")
	}
}

// OnAccess should promote the node to MRU.
func TestLRU_OnAccess_MoveToFront(t *testing.T) {
	t.Parallel()

	h := &listHooks{}
	p := New().New(h)

	a, b := &testNode{id: "a"}, &testNode{id: "b"}
	p.OnAdmit(a)
	p.OnAdmit(b)
	p.OnAccess(a)

	if h.moveToFrontCnt != 1 || h.nodes[0] != a {
		t.Fatalf("OnAccess must move the node to MRU")
	}
}

// OnRemove is a no-op for pure LRU.
func TestLRU_OnRemove_NoOp(t *testing.T) {
	t.Parallel()

	h := &listHooks{}
	p := New().New(h)
	p.OnRemove(&testNode{id: "x"})

	if h.pushFrontCnt != 0 || h.moveToFrontCnt != 0 || h.removeCnt != 0 {
		t.Fatalf("OnRemove for LRU must be no-op (no hooks should be called)")
	}
}

// Victim picks the least recently accessed node and skips pinned ones.
func TestLRU_Victim_SkipsPinned(t *testing.T) {
	t.Parallel()

	h := &listHooks{}
	p := New().New(h)

	oldest := &testNode{id: "1", rank: 1, pinned: true}
	mid := &testNode{id: "2", rank: 2}
	newest := &testNode{id: "3", rank: 3}
	p.OnAdmit(oldest)
	p.OnAdmit(mid)
	p.OnAdmit(newest)

	if v := p.Victim(); v != mid {
		t.Fatalf("want victim 2 (1 is pinned), got %v", v)
	}

	mid.pinned, newest.pinned = true, true
	if v := p.Victim(); v != nil {
		t.Fatalf("all pinned: want nil victim, got %v", v)
	}
}
