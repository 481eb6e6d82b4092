// Package store provides the candidate store: an ordered, size-bounded,
// evictable and compressed collection of candidate records with O(1) lookup
// by id.
//
// Design
//
//   - Storage: a map[string]*entry for lookups, an intrusive MRU↔LRU doubly
//     linked list for eviction ordering, and a positional sequence (arrival
//     order) that a session cursor walks. Removals tombstone their slot so
//     positions stay stable until Restart replaces the sequence.
//
//   - Budget: Capacity bounds the entry count and MaxBytes bounds the estimated
//     footprint (Options.SizeOf, record.EstimateSize by default). Ingest evicts
//     until both hold. Entries pinned by a pending decision are never evicted.
//
//   - Policies: eviction ordering is pluggable via the policy package; LRU by
//     last access is the default.
//
//   - Compression: CompressIdle re-encodes entries idle for longer than
//     Options.IdleWindow (JSON + S2). Any access decompresses transparently
//     and counts as a hit.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Compress/Size signals.
//     NoopMetrics is used by default; metrics/prom exports them to Prometheus.
//
// Basic usage
//
//	s := store.New(store.Options{Capacity: 200, MaxBytes: 4 << 20})
//	s.Ingest(batch)
//	if rec, pos, ok := s.Peek(0); ok {
//	    _ = rec // show it; pos is where the cursor found it
//	    _ = pos
//	}
//
// Thread-safety & complexity
//
// All methods are safe for concurrent use. Get, Remove, MarkPending and
// ClearPending are O(1); Peek and Remaining scan forward over tombstones;
// Restart and CompressIdle are O(n).
package store
