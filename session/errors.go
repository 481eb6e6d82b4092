package session

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is returned by Submit and SkipInvalid when no candidate is
	// left in the current pass.
	ErrExhausted = errors.New("session: exhausted")
	// ErrNothingToSkip is returned by SkipInvalid when the current record is valid.
	ErrNothingToSkip = errors.New("session: current record is valid")
	// ErrStaleCandidate is returned by SubmitCandidate for an id that is
	// neither current nor pending.
	ErrStaleCandidate = errors.New("session: candidate is not current")
	// ErrDecisionTimeout is the rollback reason for a decision the remote did
	// not answer within DecisionTimeout.
	ErrDecisionTimeout = errors.New("session: decision timed out")
	// ErrClosed is returned after Close, and is the rollback reason for
	// decisions cut short by it.
	ErrClosed = errors.New("session: closed")
)

// InvalidRecordError reports a current record that fails the integrity
// check. The cursor stays put until SkipInvalid.
type InvalidRecordError struct {
	Pos int
	ID  string
	Err error
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("session: invalid record at %d (id %q): %v", e.Pos, e.ID, e.Err)
}

func (e *InvalidRecordError) Unwrap() error { return e.Err }

// DecisionRejectedError is the rollback reason for a decision the remote
// answered with an error.
type DecisionRejectedError struct {
	CandidateID string
	Err         error
}

func (e *DecisionRejectedError) Error() string {
	return fmt.Sprintf("session: decision on %q rejected: %v", e.CandidateID, e.Err)
}

func (e *DecisionRejectedError) Unwrap() error { return e.Err }
