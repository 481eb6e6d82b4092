package session

import (
	"github.com/IvanBrykalov/swipedeck/store"
	"github.com/IvanBrykalov/swipedeck/telemetry"
)

// State is the derived session state.
type State uint8

const (
	// Idle: a current candidate is available and nothing awaits the remote.
	Idle State = iota
	// DecisionPending: at least one begun decision awaits remote resolution.
	// Submits are still accepted for other candidates.
	DecisionPending
	// Exhausted: the cursor reached the end and nothing is left to browse.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DecisionPending:
		return "decision_pending"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of the whole session for diagnostics.
type Snapshot struct {
	State     State
	Cursor    int
	SeqLen    int
	Remaining int
	// Pass counts sequences; it increases each time the sequence is replaced.
	Pass int

	Pending int
	// Overdue counts pending decisions older than DecisionTimeout that have
	// not been resolved yet.
	Overdue int

	Submitted  uint64
	Confirmed  uint64
	RolledBack uint64
	Duplicates uint64
	Invalid    uint64
	Skipped    uint64

	RefillInFlight bool
	RefillError    error

	Cache     store.Stats
	Telemetry telemetry.Counters
}
