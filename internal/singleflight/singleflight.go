// Package singleflight coalesces concurrent calls for the same key into one
// execution whose result every caller shares.
package singleflight

import (
	"context"
	"sync"
)

// Group runs at most one fn per key at a time.
//
// Concurrency notes:
//   - The first caller for a key starts fn in its own goroutine; fn is not
//     tied to any caller's ctx, so a caller giving up never aborts work other
//     callers are waiting on. Thread a context into fn if it must stop.
//   - Publishing (val, err) happens-before close(c.done), so reads after
//     <-done observe the final values.
//   - Wait blocks until every started fn has returned.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
	wg sync.WaitGroup
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do runs fn for key unless a call is already in flight, then waits for the
// shared result. shared reports whether the result came from a call another
// caller started. If ctx is cancelled first, Do returns ctx.Err() and fn
// keeps running.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	c, started := g.start(key, fn)

	select {
	case <-c.done:
		return c.val, c.err, !started
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err(), !started
	}
}

// Go starts fn for key in the background unless a call is already in
// flight. It reports whether a new call was started.
func (g *Group[K, V]) Go(key K, fn func() (V, error)) bool {
	_, started := g.start(key, fn)
	return started
}

// InFlight reports whether a call for key is running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Wait blocks until all started calls have returned.
func (g *Group[K, V]) Wait() { g.wg.Wait() }

func (g *Group[K, V]) start(key K, fn func() (V, error)) (*call[V], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		return c, false
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.wg.Add(1)
	go g.run(key, c, fn)
	return c, true
}

func (g *Group[K, V]) run(key K, c *call[V], fn func() (V, error)) {
	defer g.wg.Done()

	v, err := fn()

	// Drop the in-flight marker before waking waiters so a caller that
	// observes the result can start the next call right away.
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()

	c.val, c.err = v, err
	close(c.done)
}
