package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/swipedeck/policy"
	"github.com/IvanBrykalov/swipedeck/record"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity: removed to satisfy the entry count limit.
	EvictCapacity EvictReason = iota
	// EvictMemory: removed to satisfy the byte budget.
	EvictMemory
	// EvictCorrupt: compressed payload could not be decoded.
	EvictCorrupt
)

// String returns a stable label value.
func (r EvictReason) String() string {
	switch r {
	case EvictMemory:
		return "memory"
	case EvictCorrupt:
		return "corrupt"
	default:
		return "capacity"
	}
}

// Metrics exposes store-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Compress()
	Size(entries int, bytes int64)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the store. Zero values are safe;
// defaults are applied in New():
//   - nil Policy   => LRU
//   - nil Metrics  => NoopMetrics
//   - nil SizeOf   => record.EstimateSize
//   - nil Logger   => zap.NewNop()
type Options struct {
	// Capacity is the entry count limit (0 disables it).
	Capacity int

	// MaxBytes is the estimated memory budget (0 disables it).
	MaxBytes int64

	// IdleWindow is how long an entry may go untouched before CompressIdle
	// re-encodes it. 0 disables compression.
	IdleWindow time.Duration

	// Policy orders eviction victims; nil => LRU by last access.
	Policy policy.Policy

	// SizeOf estimates the in-memory footprint of a raw record.
	SizeOf func(record.Record) int64

	// OnEvict is called under the store lock; keep callbacks lightweight.
	OnEvict func(id string, reason EvictReason)
	Metrics Metrics
	Logger  *zap.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}
