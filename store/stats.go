package store

import "time"

// Stats is a read-only snapshot derived from the store's running aggregates.
// It is never persisted; every call reflects the latest mutation.
type Stats struct {
	Entries int
	Pending int

	Hits   uint64
	Misses uint64
	// HitRate is hits ÷ (hits + misses); 0 before any access.
	HitRate float64

	// Evictions is monotonic over the store's lifetime.
	Evictions    uint64
	Compressions uint64

	// Compressed is the number of entries currently held compressed.
	Compressed int
	// CompressionRatio is raw ÷ compressed bytes over compressed entries
	// (1 when nothing is compressed).
	CompressionRatio float64

	MemoryBytes int64
	MaxBytes    int64
	// OverBudget is true only when pending entries alone exceed a limit.
	OverBudget bool

	AvgEntryAge time.Duration
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Entries:          len(s.m),
		Pending:          s.pendingN,
		Hits:             s.hits,
		Misses:           s.misses,
		Evictions:        s.evictions,
		Compressions:     s.compressions,
		Compressed:       s.compressedN,
		CompressionRatio: 1,
		MemoryBytes:      s.bytes,
		MaxBytes:         s.opt.MaxBytes,
		OverBudget:       s.overCountLocked() || s.overBytesLocked(),
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	if s.compressedPacked > 0 {
		st.CompressionRatio = float64(s.compressedRaw) / float64(s.compressedPacked)
	}
	if n := int64(len(s.m)); n > 0 {
		avgCreated := s.sumCreated / n
		if age := s.now() - avgCreated; age > 0 {
			st.AvgEntryAge = time.Duration(age)
		}
	}
	return st
}
