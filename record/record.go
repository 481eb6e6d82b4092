// Package record defines the candidate records browsed in a swipe session
// and the decisions a user can take on them.
package record

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Decision is the user's verdict on a candidate.
type Decision uint8

const (
	// Reject passes on the candidate.
	Reject Decision = iota + 1
	// Accept likes the candidate.
	Accept
)

// String returns a stable lowercase name, used in telemetry and storage.
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Valid reports whether d is Accept or Reject.
func (d Decision) Valid() bool { return d == Accept || d == Reject }

// ParseDecision maps "accept"/"reject" (case-insensitive) to a Decision.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "like", "right":
		return Accept, nil
	case "reject", "pass", "left":
		return Reject, nil
	}
	return 0, fmt.Errorf("record: unknown decision %q", s)
}

// Record is a browsable candidate profile. Values are treated as immutable
// once handed to the store; the store keeps its own copy.
type Record struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Tags     []string          `json:"tags,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Distance *float64          `json:"distance,omitempty"`

	// FetchedAt is when the remote collaborator produced the record.
	FetchedAt time.Time `json:"fetched_at"`
}

var (
	// ErrMissingID marks a record without an identity.
	ErrMissingID = errors.New("record: missing id")
	// ErrMissingName marks a record without a display name.
	ErrMissingName = errors.New("record: missing display name")
)

// Validate runs the minimal integrity check a record must pass before it can
// be shown: it needs an id and a display name.
func Validate(r Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrMissingName
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias store-owned slices/maps.
func (r Record) Clone() Record {
	out := r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	if r.Fields != nil {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	if r.Distance != nil {
		d := *r.Distance
		out.Distance = &d
	}
	return out
}

// recordOverhead approximates the fixed in-memory cost of a Record
// (struct header, slice/map headers, time.Time, pointer).
const recordOverhead = 160

// EstimateSize returns a rough byte estimate of r's in-memory footprint.
func EstimateSize(r Record) int64 {
	n := int64(recordOverhead) + int64(len(r.ID)+len(r.Name))
	for _, t := range r.Tags {
		n += int64(len(t)) + 16
	}
	for k, v := range r.Fields {
		n += int64(len(k)+len(v)) + 32
	}
	if r.Distance != nil {
		n += 8
	}
	return n
}
