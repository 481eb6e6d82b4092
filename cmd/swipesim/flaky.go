package main

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/IvanBrykalov/swipedeck/record"
	"github.com/IvanBrykalov/swipedeck/session"
)

var errInjected = errors.New("swipesim: injected failure")

// flakyRemote wraps a remote with latency and injected decision failures:
// failPct percent fail outright, hangPct percent never answer.
type flakyRemote struct {
	session.Remote
	latency time.Duration
	failPct int
	hangPct int

	mu  sync.Mutex
	rnd *rand.Rand
}

func newFlaky(r session.Remote, latency time.Duration, failPct, hangPct int, seed int64) *flakyRemote {
	return &flakyRemote{
		Remote:  r,
		latency: latency,
		failPct: failPct,
		hangPct: hangPct,
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

func (f *flakyRemote) roll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.Intn(100)
}

func (f *flakyRemote) wait(ctx context.Context) error {
	if f.latency <= 0 {
		return nil
	}
	t := time.NewTimer(f.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *flakyRemote) FetchCandidates(ctx context.Context, excludeIDs []string, limit int) ([]record.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.Remote.FetchCandidates(ctx, excludeIDs, limit)
}

func (f *flakyRemote) SubmitDecision(ctx context.Context, id string, d record.Decision) error {
	roll := f.roll()
	if err := f.wait(ctx); err != nil {
		return err
	}
	switch {
	case roll < f.failPct:
		return errInjected
	case roll < f.failPct+f.hangPct:
		<-ctx.Done()
		return ctx.Err()
	}
	return f.Remote.SubmitDecision(ctx, id, d)
}
