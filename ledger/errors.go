package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyPending is matched (errors.Is) by *AlreadyPendingError.
	ErrAlreadyPending = errors.New("ledger: decision already pending")
	// ErrNotPending is returned when resolving a token that is not the active
	// pending update for its candidate (already resolved, or unknown).
	ErrNotPending = errors.New("ledger: token is not pending")
	// ErrInvalidDecision rejects decisions other than Accept/Reject.
	ErrInvalidDecision = errors.New("ledger: invalid decision")
)

// AlreadyPendingError reports a second Begin for a candidate whose previous
// decision has not resolved yet. Rapid repeated input produces it.
type AlreadyPendingError struct {
	CandidateID string
	Active      Token
}

func (e *AlreadyPendingError) Error() string {
	return fmt.Sprintf("ledger: decision for %q already pending (token %s)", e.CandidateID, e.Active.ID())
}

// Is makes errors.Is(err, ErrAlreadyPending) hold.
func (e *AlreadyPendingError) Is(target error) bool { return target == ErrAlreadyPending }

// RolledBackError describes a decision whose optimistic effect was reversed.
// It is meant to be surfaced to the user as a retry affordance.
type RolledBackError struct {
	Token  Token
	Reason error
	// Detached is true when the candidate lost its original slot and will
	// surface at the head of the next pass.
	Detached bool
}

func (e *RolledBackError) Error() string {
	return fmt.Sprintf("ledger: %s on %q rolled back: %v", e.Token.Decision(), e.Token.CandidateID(), e.Reason)
}

func (e *RolledBackError) Unwrap() error { return e.Reason }

// Retryable is always true: the candidate is back in the pool.
func (e *RolledBackError) Retryable() bool { return true }

// InvariantViolation is raised (panic) when the ledger and the store disagree.
// It signals a logic defect, not a runtime condition.
type InvariantViolation struct {
	Op          string
	CandidateID string
	Err         error
}

func (e InvariantViolation) Error() string {
	return fmt.Sprintf("ledger: invariant violated in %s for %q: %v", e.Op, e.CandidateID, e.Err)
}

func (e InvariantViolation) Unwrap() error { return e.Err }
