// Package session drives one swipe session: it exposes the current
// candidate, applies decisions optimistically through the ledger, resolves
// them against the remote in the background, and keeps the store topped up.
//
// Every entry point and every background resolution is serialized through
// one engine mutex (lock order: engine, ledger, store). Only remote calls run
// outside it. The cursor moves forward past each decided candidate at submit
// time and is reset to 0 only when the sequence is replaced by a new pass.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/swipedeck/ledger"
	"github.com/IvanBrykalov/swipedeck/prefetch"
	"github.com/IvanBrykalov/swipedeck/record"
	"github.com/IvanBrykalov/swipedeck/store"
	"github.com/IvanBrykalov/swipedeck/telemetry"
)

// Fetcher supplies candidates, skipping excludeIDs.
type Fetcher interface {
	FetchCandidates(ctx context.Context, excludeIDs []string, limit int) ([]record.Record, error)
}

// Submitter records a decision remotely. A nil error confirms it.
type Submitter interface {
	SubmitDecision(ctx context.Context, candidateID string, d record.Decision) error
}

// Remote is the collaborator a session talks to.
type Remote interface {
	Fetcher
	Submitter
}

// Options configures an Engine. Zero values are safe.
type Options struct {
	Store    store.Options
	Prefetch prefetch.Options

	// DecisionTimeout bounds one remote decision (default 10s). A decision
	// not answered in time is rolled back even if the remote ignores its ctx.
	DecisionTimeout time.Duration

	// HistoryTTL is how long resolved decisions stay queryable via
	// DecisionStatus (default 10m).
	HistoryTTL time.Duration

	// OnDecisionFailed is called, outside the engine lock, after a decision
	// was rolled back. Use it to offer a retry.
	OnDecisionFailed func(*ledger.RolledBackError)

	// Events receives debounced telemetry; nil disables it.
	Events telemetry.Sink
	// EventInterval is the per-name debounce window (default 50ms).
	EventInterval time.Duration

	Logger *zap.Logger
}

// Engine is the session state machine. All methods are safe for concurrent use.
type Engine struct {
	remote Remote
	opt    Options
	log    *zap.Logger
	em     *telemetry.Emitter

	st  *store.Store
	led *ledger.Ledger
	pf  *prefetch.Controller

	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group

	// ---- guarded by mu ----
	mu        sync.Mutex
	cursor    int
	exhausted bool
	pass      int
	closed    bool

	submitted, confirmed, rolledBack uint64
	duplicates, invalid, skipped     uint64

	// ids discarded by SkipInvalid, oldest first; kept out of later refills
	skippedIDs   map[string]struct{}
	skippedOrder []string
}

// maxSkippedIDs bounds the skipped-id memory of one engine.
const maxSkippedIDs = 1024

// New builds an engine over remote. The store starts empty; call Start (or
// ManualRefresh) to load the first batch.
func New(remote Remote, opt Options) *Engine {
	if opt.DecisionTimeout <= 0 {
		opt.DecisionTimeout = 10 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	e := &Engine{
		remote:     remote,
		opt:        opt,
		log:        opt.Logger.With(zap.String("module", "session")),
		exhausted:  true,
		skippedIDs: make(map[string]struct{}),
	}
	if opt.Events != nil {
		e.em = telemetry.NewEmitter(opt.Events, telemetry.Options{
			MinInterval: opt.EventInterval,
			Logger:      opt.Logger,
		})
	}

	so := opt.Store
	userOnEvict := so.OnEvict
	so.OnEvict = func(id string, reason store.EvictReason) {
		e.em.Emit(telemetry.CacheEvicted, map[string]any{"id": id, "reason": reason.String()})
		if userOnEvict != nil {
			userOnEvict(id, reason)
		}
	}
	if so.Logger == nil {
		so.Logger = opt.Logger
	}
	e.st = store.New(so)
	e.led = ledger.New(e.st, ledger.Options{HistoryTTL: opt.HistoryTTL, Logger: opt.Logger})

	po := opt.Prefetch
	po.OnRefill = e.onRefill
	if po.Logger == nil {
		po.Logger = opt.Logger
	}
	e.pf = prefetch.New(remote, engineSink{e}, po)

	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Start loads the first batch and waits for it. It is ManualRefresh under
// another name, kept for readability at call sites.
func (e *Engine) Start(ctx context.Context) error { return e.ManualRefresh(ctx) }

// Current returns the candidate at the cursor, if any. It is a read-only
// view: polling it neither counts cache hits nor changes eviction order.
func (e *Engine) Current() (record.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exhausted {
		return record.Record{}, false
	}
	rec, _, ok := e.st.Head(e.cursor)
	return rec, ok
}

// IsExhausted reports whether the session has nothing left to show.
func (e *Engine) IsExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhausted
}

// Cursor returns the current position in the sequence.
func (e *Engine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// State returns the derived session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Submit applies d to the current candidate. The cursor advances at once and
// the remote leg resolves in the background. A candidate with a decision
// already pending makes Submit a no-op.
//
// Errors: ErrExhausted, *InvalidRecordError (call SkipInvalid), ErrClosed.
func (e *Engine) Submit(d record.Decision) error {
	if !d.Valid() {
		return ledger.ErrInvalidDecision
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.exhausted {
		return ErrExhausted
	}
	rec, pos, ok := e.st.Peek(e.cursor)
	if !ok {
		e.settleEndLocked()
		return ErrExhausted
	}
	return e.submitLocked(rec, pos, d)
}

// SubmitCandidate applies d to the candidate the caller displayed. It
// behaves like Submit when id is current. A repeated decision on a
// candidate whose earlier decision is still pending is a no-op; any other
// id returns ErrStaleCandidate.
func (e *Engine) SubmitCandidate(id string, d record.Decision) error {
	if !d.Valid() {
		return ledger.ErrInvalidDecision
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if !e.exhausted {
		if rec, pos, ok := e.st.Peek(e.cursor); ok && rec.ID == id {
			return e.submitLocked(rec, pos, d)
		}
	}
	if !e.led.Pending(id) {
		return ErrStaleCandidate
	}

	_, err := e.led.Begin(id, d)
	if errors.Is(err, ledger.ErrAlreadyPending) {
		e.duplicateLocked(id)
		return nil
	}
	if err == nil {
		panic(ledger.InvariantViolation{Op: "submit", CandidateID: id, Err: errors.New("second pending decision begun")})
	}
	return err
}

// SkipInvalid discards the invalid record at the cursor and advances. A
// skipped id is excluded from later refills, so it is not shown again.
// Returns ErrNothingToSkip when the current record is valid.
func (e *Engine) SkipInvalid() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.exhausted {
		return ErrExhausted
	}
	rec, pos, ok := e.st.Peek(e.cursor)
	if !ok {
		e.settleEndLocked()
		return ErrExhausted
	}
	if record.Validate(rec) == nil {
		return ErrNothingToSkip
	}

	key, _ := e.st.RemoveAt(pos)
	e.rememberSkippedLocked(rec.ID)
	e.skipped++
	e.log.Info("invalid record skipped", zap.Int("pos", pos), zap.String("key", key))
	e.em.Emit(telemetry.RecordSkipped, map[string]any{"pos": pos})
	e.advanceLocked(pos)
	return nil
}

// ManualRefresh clears prefetch exhaustion and any recorded refill failure,
// then fetches and waits. If the session was exhausted and candidates are now
// available, a new pass starts at cursor 0.
func (e *Engine) ManualRefresh(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	// Not under e.mu: the refill feeds back through engineSink.
	if _, err := e.pf.Refresh(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exhausted && e.st.Browsable() > 0 {
		e.newPassLocked()
	}
	return nil
}

// Stats returns the store's cache statistics.
func (e *Engine) Stats() store.Stats { return e.st.Stats() }

// Snapshot returns a view of the whole session.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		State:          e.stateLocked(),
		Cursor:         e.cursor,
		SeqLen:         e.st.SeqLen(),
		Remaining:      e.st.Remaining(e.cursor),
		Pass:           e.pass,
		Pending:        e.led.PendingCount(),
		Overdue:        len(e.led.Expired(time.Now(), e.opt.DecisionTimeout)),
		Submitted:      e.submitted,
		Confirmed:      e.confirmed,
		RolledBack:     e.rolledBack,
		Duplicates:     e.duplicates,
		Invalid:        e.invalid,
		Skipped:        e.skipped,
		RefillInFlight: e.pf.InFlight(),
		RefillError:    e.pf.LastError(),
		Cache:          e.st.Stats(),
		Telemetry:      e.em.Counters(),
	}
}

// DecisionStatus returns the latest known decision for id.
func (e *Engine) DecisionStatus(id string) (ledger.Update, bool) { return e.led.Status(id) }

// RefillError returns the last unacknowledged refill failure, or nil.
func (e *Engine) RefillError() error { return e.pf.LastError() }

// Wait blocks until in-flight refills and decision resolutions finish.
func (e *Engine) Wait() {
	e.pf.Wait()
	_ = e.eg.Wait()
}

// Close stops refills, rolls back decisions still awaiting the remote with
// reason ErrClosed, and waits for background work.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.pf.Close()
	e.cancel()
	_ = e.eg.Wait()
	e.em.Close()
}

// ---------------- internals (e.mu held unless noted) ----------------

func (e *Engine) stateLocked() State {
	switch {
	case e.exhausted:
		return Exhausted
	case e.led.PendingCount() > 0:
		return DecisionPending
	default:
		return Idle
	}
}

func (e *Engine) submitLocked(rec record.Record, pos int, d record.Decision) error {
	if err := record.Validate(rec); err != nil {
		e.invalid++
		e.em.Emit(telemetry.RecordInvalid, map[string]any{"pos": pos, "id": rec.ID, "error": err.Error()})
		return &InvalidRecordError{Pos: pos, ID: rec.ID, Err: err}
	}

	tok, err := e.led.Begin(rec.ID, d)
	if errors.Is(err, ledger.ErrAlreadyPending) {
		e.duplicateLocked(rec.ID)
		return nil
	}
	if err != nil {
		return err
	}

	e.submitted++
	e.em.Emit(telemetry.DecisionSubmitted, map[string]any{"id": rec.ID, "decision": d.String()})
	e.eg.Go(func() error {
		e.resolve(tok)
		return nil
	})

	e.advanceLocked(pos)
	e.st.CompressIdle()
	e.emitStatsLocked()
	return nil
}

func (e *Engine) duplicateLocked(id string) {
	e.duplicates++
	e.log.Debug("duplicate decision ignored", zap.String("id", id))
	e.em.Emit(telemetry.DecisionDuplicate, map[string]any{"id": id})
}

// advanceLocked moves the cursor past pos and reacts to what is left.
func (e *Engine) advanceLocked(pos int) {
	e.cursor = pos + 1
	rem := e.st.Remaining(e.cursor)
	e.pf.NotifyConsumed(rem)
	if rem == 0 {
		e.settleEndLocked()
	}
}

// settleEndLocked handles a cursor with nothing ahead of it: a new pass over
// reinstated leftovers if there are any, exhaustion otherwise.
func (e *Engine) settleEndLocked() {
	if e.st.Browsable() > 0 {
		e.newPassLocked()
		return
	}
	if !e.exhausted {
		e.exhausted = true
		e.log.Info("session exhausted", zap.Int("cursor", e.cursor), zap.Int("pass", e.pass))
		e.em.Emit(telemetry.SessionExhausted, map[string]any{"cursor": e.cursor, "pass": e.pass})
	}
}

func (e *Engine) newPassLocked() {
	n := e.st.Restart()
	e.cursor = 0
	e.exhausted = n == 0
	e.pass++
	e.log.Debug("new pass", zap.Int("pass", e.pass), zap.Int("len", n))
	e.em.Emit(telemetry.SessionNewPass, map[string]any{"pass": e.pass, "len": n})
}

func (e *Engine) emitStatsLocked() {
	st := e.st.Stats()
	e.em.Emit(telemetry.CacheStats, map[string]any{
		"entries":      st.Entries,
		"hit_rate":     st.HitRate,
		"evictions":    st.Evictions,
		"memory_bytes": st.MemoryBytes,
		"over_budget":  st.OverBudget,
	})
}

func (e *Engine) rememberSkippedLocked(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	if _, ok := e.skippedIDs[id]; ok {
		return
	}
	if len(e.skippedOrder) == maxSkippedIDs {
		delete(e.skippedIDs, e.skippedOrder[0])
		e.skippedOrder = e.skippedOrder[1:]
	}
	e.skippedIDs[id] = struct{}{}
	e.skippedOrder = append(e.skippedOrder, id)
}

// ingest is the prefetch sink. Called from refill goroutines, e.mu not held.
func (e *Engine) ingest(batch []record.Record) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.skippedIDs) > 0 {
		// The remote may not honor exclusions.
		kept := batch[:0:0]
		for _, r := range batch {
			if _, skip := e.skippedIDs[r.ID]; !skip {
				kept = append(kept, r)
			}
		}
		batch = kept
	}
	n := e.st.Ingest(batch)
	e.st.CompressIdle()
	switch {
	case e.exhausted:
		if e.st.Browsable() > 0 {
			e.newPassLocked()
		}
	case e.st.Remaining(e.cursor) == 0:
		// Eviction can take out what was ahead of the cursor.
		e.settleEndLocked()
	}
	e.emitStatsLocked()
	return n
}

// onRefill runs outside every lock.
func (e *Engine) onRefill(inserted int, err error) {
	if err != nil {
		e.em.Emit(telemetry.RefillFailed, map[string]any{"error": err.Error()})
		return
	}
	e.em.Emit(telemetry.RefillCompleted, map[string]any{"inserted": inserted})
}

// resolve runs the remote leg of tok and settles it. Runs on e.eg, e.mu not
// held. The remote call gets its own goroutine so a remote that ignores ctx
// cannot hold the decision past DecisionTimeout; that goroutine ends when the
// remote returns.
func (e *Engine) resolve(tok ledger.Token) {
	ctx, cancel := context.WithTimeout(e.ctx, e.opt.DecisionTimeout)
	defer cancel()

	res := make(chan error, 1)
	go func() {
		res <- e.remote.SubmitDecision(ctx, tok.CandidateID(), tok.Decision())
	}()

	var outcome error
	select {
	case err := <-res:
		if err != nil {
			outcome = e.classify(ctx, tok, err)
		}
	case <-ctx.Done():
		outcome = e.classify(ctx, tok, ctx.Err())
	}
	e.settle(tok, outcome)
}

// classify converts a transport error into a rollback reason.
func (e *Engine) classify(ctx context.Context, tok ledger.Token, err error) error {
	switch {
	case e.ctx.Err() != nil:
		return ErrClosed
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrDecisionTimeout
	default:
		return &DecisionRejectedError{CandidateID: tok.CandidateID(), Err: err}
	}
}

func (e *Engine) settle(tok ledger.Token, outcome error) {
	e.mu.Lock()

	if outcome == nil {
		if err := e.led.Confirm(tok); err != nil {
			e.mu.Unlock()
			e.log.Warn("confirm dropped", zap.String("id", tok.CandidateID()), zap.Error(err))
			return
		}
		e.confirmed++
		e.em.Emit(telemetry.DecisionConfirmed, map[string]any{"id": tok.CandidateID(), "decision": tok.Decision().String()})
		e.mu.Unlock()
		return
	}

	rb, err := e.led.Rollback(tok, outcome)
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("rollback dropped", zap.String("id", tok.CandidateID()), zap.Error(err))
		return
	}
	e.rolledBack++
	e.em.Emit(telemetry.DecisionRolledBack, map[string]any{
		"id": tok.CandidateID(), "decision": tok.Decision().String(), "reason": outcome.Error(),
	})
	// The reinstated candidate sits behind the cursor; an exhausted session
	// picks it up in a new pass right away.
	if e.exhausted && !e.closed {
		e.newPassLocked()
	}
	cb := e.opt.OnDecisionFailed
	e.mu.Unlock()

	if cb != nil {
		cb(rb)
	}
}

// engineSink routes refill batches through the engine.
type engineSink struct{ e *Engine }

func (s engineSink) Ingest(batch []record.Record) int { return s.e.ingest(batch) }
func (s engineSink) IDs() []string                    { return s.e.exclusions() }

// exclusions lists ids a refill must not return: everything resident plus
// everything skipped as invalid.
func (e *Engine) exclusions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(e.st.IDs(), e.skippedOrder...)
}
