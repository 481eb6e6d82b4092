// Package prefetch keeps the candidate store topped up: it watches the
// remaining count against a low-water mark and issues at most one refill
// request to the remote collaborator at a time.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/swipedeck/internal/singleflight"
	"github.com/IvanBrykalov/swipedeck/record"
)

var (
	// ErrRefillFailed is matched (errors.Is) by *RefillFailedError.
	ErrRefillFailed = errors.New("prefetch: refill failed")
	// ErrClosed is returned by Refresh after Close.
	ErrClosed = errors.New("prefetch: controller closed")
)

// RefillFailedError records a failed refill. It is not retried
// automatically; a manual Refresh clears it.
type RefillFailedError struct {
	Err error
	At  time.Time
}

func (e *RefillFailedError) Error() string { return fmt.Sprintf("prefetch: refill failed: %v", e.Err) }
func (e *RefillFailedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRefillFailed) hold.
func (e *RefillFailedError) Is(target error) bool { return target == ErrRefillFailed }

// Fetcher is the remote side of a refill.
type Fetcher interface {
	FetchCandidates(ctx context.Context, excludeIDs []string, limit int) ([]record.Record, error)
}

// Sink receives refill batches. *store.Store satisfies it.
type Sink interface {
	Ingest(batch []record.Record) int
	IDs() []string
}

// Options configures a Controller. Zero values are safe.
type Options struct {
	// LowWaterMark triggers a refill when remaining <= it (default 3,
	// negative means 0).
	LowWaterMark int
	// BatchSize is the limit passed to the fetcher (default 20).
	BatchSize int
	// FetchTimeout bounds one remote fetch (default 10s).
	FetchTimeout time.Duration

	// OnRefill is called after every refill resolves, outside internal locks.
	// err is a *RefillFailedError on failure.
	OnRefill func(inserted int, err error)

	Logger *zap.Logger
}

const refillKey = "refill"

// Controller schedules refills. All methods are safe for concurrent use.
type Controller struct {
	fetch Fetcher
	sink  Sink
	opt   Options
	log   *zap.Logger

	sf     singleflight.Group[string, int]
	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	exhausted bool
	closed    bool
	lastErr   error
}

// New builds a controller that fetches from f and feeds s.
func New(f Fetcher, s Sink, opt Options) *Controller {
	if opt.LowWaterMark < 0 {
		opt.LowWaterMark = 0
	} else if opt.LowWaterMark == 0 {
		opt.LowWaterMark = 3
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 20
	}
	if opt.FetchTimeout <= 0 {
		opt.FetchTimeout = 10 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		fetch:  f,
		sink:   s,
		opt:    opt,
		log:    opt.Logger.With(zap.String("module", "prefetch")),
		base:   ctx,
		cancel: cancel,
	}
}

// NotifyConsumed is called after every cursor advance. It starts exactly one
// background refill when remaining is at or below the low-water mark, no
// refill is in flight, and the controller is neither exhausted nor holding
// an unacknowledged failure. Reports whether a refill was started.
//
// A call that lands while a refill is finishing (including one made from
// OnRefill) starts nothing; the next call after it resolves does.
func (c *Controller) NotifyConsumed(remaining int) bool {
	c.mu.Lock()
	idle := remaining <= c.opt.LowWaterMark && !c.exhausted && c.lastErr == nil && !c.closed
	c.mu.Unlock()
	if !idle {
		return false
	}

	// The singleflight key is the only in-flight marker: checking and
	// claiming it is one step, so nothing can be left claimed.
	if !c.sf.Go(refillKey, c.refill) {
		return false
	}
	c.log.Debug("refill scheduled", zap.Int("remaining", remaining))
	return true
}

// Refresh is the manual retry affordance: it clears the exhausted flag and
// any recorded failure, then runs a refill (or joins the one in flight) and
// waits for its outcome. ctx only bounds the wait.
func (c *Controller) Refresh(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.exhausted = false
	c.lastErr = nil
	c.mu.Unlock()

	n, err, _ := c.sf.Do(ctx, refillKey, c.refill)
	var rf *RefillFailedError
	if errors.As(err, &rf) {
		// A joined call may have failed before the reset above.
		c.mu.Lock()
		if c.lastErr == nil {
			c.lastErr = rf
		}
		c.mu.Unlock()
	}
	return n, err
}

// OnRefillComplete feeds a fetched batch to the sink. A batch that adds no
// new candidates marks the controller exhausted.
func (c *Controller) OnRefillComplete(batch []record.Record) int {
	inserted := c.sink.Ingest(batch)

	c.mu.Lock()
	c.lastErr = nil
	if inserted == 0 {
		c.exhausted = true
	}
	c.mu.Unlock()

	c.log.Debug("refill complete",
		zap.Int("fetched", len(batch)), zap.Int("inserted", inserted), zap.Bool("exhausted", inserted == 0))
	if c.opt.OnRefill != nil {
		c.opt.OnRefill(inserted, nil)
	}
	return inserted
}

// OnRefillFailed records err for exposure to the caller. Further automatic
// refills are suppressed until Refresh.
func (c *Controller) OnRefillFailed(err error) error {
	rf := &RefillFailedError{Err: err, At: time.Now()}

	c.mu.Lock()
	c.lastErr = rf
	c.mu.Unlock()

	c.log.Warn("refill failed", zap.Error(err))
	if c.opt.OnRefill != nil {
		c.opt.OnRefill(0, rf)
	}
	return rf
}

// Exhausted reports whether the last refill added nothing.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// InFlight reports whether a refill is outstanding.
func (c *Controller) InFlight() bool { return c.sf.InFlight(refillKey) }

// LastError returns the recorded *RefillFailedError, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Wait blocks until every started refill has resolved.
func (c *Controller) Wait() { c.sf.Wait() }

// Close cancels outstanding fetches and waits for them to resolve.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.sf.Wait()
}

func (c *Controller) refill() (int, error) {
	ctx, cancel := context.WithTimeout(c.base, c.opt.FetchTimeout)
	defer cancel()

	batch, err := c.fetch.FetchCandidates(ctx, c.sink.IDs(), c.opt.BatchSize)
	if err != nil {
		return 0, c.OnRefillFailed(err)
	}
	return c.OnRefillComplete(batch), nil
}
