// Package ledger tracks optimistic decisions per candidate: it applies the
// local effect immediately, and later either confirms it or rolls it back.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/swipedeck/record"
	"github.com/IvanBrykalov/swipedeck/store"
)

// Status is the lifecycle state of an optimistic update.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Token identifies one begun decision. The zero Token is invalid.
type Token struct {
	id          uuid.UUID
	candidateID string
	decision    record.Decision
	submittedAt time.Time
}

func (t Token) ID() uuid.UUID             { return t.id }
func (t Token) CandidateID() string       { return t.candidateID }
func (t Token) Decision() record.Decision { return t.decision }
func (t Token) SubmittedAt() time.Time    { return t.submittedAt }
func (t Token) IsZero() bool              { return t.id == uuid.Nil }

// Update is an optimistic update as seen from outside the ledger.
type Update struct {
	Token      Token
	Status     Status
	Reason     error // set when Status == StatusFailed
	ResolvedAt time.Time
}

// Store is the part of the candidate store the ledger mutates.
type Store interface {
	MarkPending(id string, d record.Decision) error
	ClearPending(id string) (detached bool, err error)
	Remove(id string) bool
}

// Options configures a Ledger. Zero values are safe.
type Options struct {
	// HistoryTTL bounds how long resolved updates stay queryable (default 10m).
	HistoryTTL time.Duration
	Logger     *zap.Logger
	// Now overrides the time source (tests). Nil => time.Now.
	Now func() time.Time
}

// Ledger enforces at most one pending update per candidate id.
// All methods are safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	st      Store
	pending map[string]*Update
	history *cache.Cache

	log *zap.Logger
	now func() time.Time
}

// New builds a ledger over st.
func New(st Store, opt Options) *Ledger {
	if opt.HistoryTTL <= 0 {
		opt.HistoryTTL = 10 * time.Minute
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Ledger{
		st:      st,
		pending: make(map[string]*Update),
		history: cache.New(opt.HistoryTTL, opt.HistoryTTL/2),
		log:     opt.Logger.With(zap.String("module", "ledger")),
		now:     opt.Now,
	}
}

// Begin records a pending decision for id and takes the candidate out of the
// browsable sequence. It fails with *AlreadyPendingError while a previous
// decision for id is unresolved.
func (l *Ledger) Begin(id string, d record.Decision) (Token, error) {
	if !d.Valid() {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidDecision, d)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if u, ok := l.pending[id]; ok {
		return Token{}, &AlreadyPendingError{CandidateID: id, Active: u.Token}
	}
	if err := l.st.MarkPending(id, d); err != nil {
		if errors.Is(err, store.ErrPinned) {
			panic(InvariantViolation{Op: "begin", CandidateID: id, Err: err})
		}
		return Token{}, fmt.Errorf("ledger: begin %q: %w", id, err)
	}

	tok := Token{id: uuid.New(), candidateID: id, decision: d, submittedAt: l.now()}
	l.pending[id] = &Update{Token: tok, Status: StatusPending}
	l.log.Debug("decision begun",
		zap.String("id", id), zap.Stringer("decision", d), zap.Stringer("token", tok.id))
	return tok, nil
}

// Confirm resolves tok as confirmed and permanently removes the candidate.
func (l *Ledger) Confirm(tok Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.activeLocked(tok)
	if err != nil {
		return err
	}
	if !l.st.Remove(tok.candidateID) {
		panic(InvariantViolation{Op: "confirm", CandidateID: tok.candidateID, Err: store.ErrNotFound})
	}
	l.resolveLocked(u, StatusConfirmed, nil)
	return nil
}

// Rollback resolves tok as failed and reinstates the candidate: in its
// original slot when it still exists, otherwise at the head of the next pass.
// The returned *RolledBackError is the retryable failure to surface; err is
// non-nil only when tok is not pending.
func (l *Ledger) Rollback(tok Token, reason error) (*RolledBackError, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.activeLocked(tok)
	if err != nil {
		return nil, err
	}
	detached, err := l.st.ClearPending(tok.candidateID)
	if err != nil {
		panic(InvariantViolation{Op: "rollback", CandidateID: tok.candidateID, Err: err})
	}
	l.resolveLocked(u, StatusFailed, reason)
	l.log.Info("decision rolled back",
		zap.String("id", tok.candidateID), zap.Stringer("decision", tok.decision),
		zap.Bool("detached", detached), zap.Error(reason))
	return &RolledBackError{Token: tok, Reason: reason, Detached: detached}, nil
}

// Status returns the latest known update for id: the pending one if any,
// otherwise the most recent resolved one still in history.
func (l *Ledger) Status(id string) (Update, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u, ok := l.pending[id]; ok {
		return *u, true
	}
	if v, ok := l.history.Get(id); ok {
		return v.(Update), true
	}
	return Update{}, false
}

// Pending reports whether id has an unresolved decision.
func (l *Ledger) Pending(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[id]
	return ok
}

// PendingCount returns the number of unresolved decisions.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Expired lists pending tokens submitted more than timeout before now,
// oldest first.
func (l *Ledger) Expired(now time.Time, timeout time.Duration) []Token {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Token
	for _, u := range l.pending {
		if now.Sub(u.Token.submittedAt) >= timeout {
			out = append(out, u.Token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].submittedAt.Before(out[j].submittedAt) })
	return out
}

// activeLocked returns the pending update tok refers to.
func (l *Ledger) activeLocked(tok Token) (*Update, error) {
	if tok.IsZero() {
		return nil, fmt.Errorf("%w: zero token", ErrNotPending)
	}
	u, ok := l.pending[tok.candidateID]
	if !ok || u.Token.id != tok.id {
		return nil, fmt.Errorf("%w: %s for %q", ErrNotPending, tok.id, tok.candidateID)
	}
	return u, nil
}

func (l *Ledger) resolveLocked(u *Update, st Status, reason error) {
	u.Status = st
	u.Reason = reason
	u.ResolvedAt = l.now()
	delete(l.pending, u.Token.candidateID)
	l.history.SetDefault(u.Token.candidateID, *u)
}
