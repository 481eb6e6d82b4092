package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/swipedeck/policy"
	"github.com/IvanBrykalov/swipedeck/policy/lru"
	"github.com/IvanBrykalov/swipedeck/record"
)

var (
	// ErrNotFound is returned when an id is not resident.
	ErrNotFound = errors.New("store: candidate not found")
	// ErrPinned is returned by MarkPending when the entry already carries a decision.
	ErrPinned = errors.New("store: candidate already pending")
	// ErrNotPinned is returned by ClearPending when the entry carries no decision.
	ErrNotPinned = errors.New("store: candidate not pending")
)

// anonPrefix keys records that arrive without an id so they can still be
// held (and later surfaced as invalid) without colliding with each other.
const anonPrefix = "\x00anon:"

// Store is an ordered, size-bounded collection of candidate records with
// O(1) lookup by id. It owns eviction and compression.
//
// Two orders are kept side by side:
//   - the sequence: arrival order, addressed by position, consumed by a session
//     cursor. Removed entries leave a tombstone so positions stay stable until
//     Restart replaces the sequence wholesale.
//   - the recency list (head=MRU, tail=LRU) that drives eviction.
//
// All methods are safe for concurrent use.
type Store struct {
	// ---- guarded by mu ----
	mu       sync.Mutex
	m        map[string]*entry
	seq      []*entry // nil slots are tombstones
	head     *entry   // MRU
	tail     *entry   // LRU
	nextRank int64
	bytes    int64
	pendingN int

	// aggregates for Stats
	hits, misses     uint64
	evictions        uint64
	compressions     uint64
	compressedN      int
	compressedRaw    int64
	compressedPacked int64
	sumCreated       int64

	pol policy.Instance
	opt Options
}

// New constructs a store with the provided Options.
// Defaults:
//   - nil Policy  -> LRU
//   - nil Metrics -> NoopMetrics
//   - nil SizeOf  -> record.EstimateSize
//   - nil Logger  -> zap.NewNop()
func New(opt Options) *Store {
	if opt.Capacity < 0 || opt.MaxBytes < 0 {
		panic("store: Capacity and MaxBytes must be >= 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New()
	}
	if opt.SizeOf == nil {
		opt.SizeOf = record.EstimateSize
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	opt.Logger = opt.Logger.With(zap.String("module", "store"))

	s := &Store{
		m:   make(map[string]*entry, opt.Capacity),
		opt: opt,
	}
	s.pol = opt.Policy.New(storeHooks{s: s})
	return s
}

// Ingest appends new records in arrival order, skipping ids already present
// (including repeats inside batch). If the post-insert estimate is over
// budget, least recently accessed entries are evicted.
// Returns the number of records inserted.
func (s *Store) Ingest(batch []record.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	inserted := 0
	for _, r := range batch {
		key := r.ID
		if strings.TrimSpace(key) == "" {
			key = fmt.Sprintf("%s%d", anonPrefix, s.nextRank)
		}
		if _, dup := s.m[key]; dup {
			continue
		}

		rec := r.Clone()
		raw := s.opt.SizeOf(rec)
		e := &entry{
			id:         key,
			rec:        rec,
			rawSize:    raw,
			size:       raw + entryOverhead,
			rank:       s.nextRank,
			slot:       len(s.seq),
			createdAt:  now,
			lastAccess: now,
		}
		s.nextRank++

		s.m[key] = e
		s.seq = append(s.seq, e)
		s.bytes += e.size
		s.sumCreated += now
		s.pol.OnAdmit(e)
		inserted++
	}

	if inserted > 0 {
		if n := s.enforceLimitsLocked(); n > 0 {
			s.opt.Logger.Debug("evicted after ingest",
				zap.Int("inserted", inserted), zap.Int("evicted", n))
		}
	}
	return inserted
}

// Get returns the record for id and a presence flag. A resident entry is a
// hit (decompressed if needed, promoted); anything else is a miss that would
// need a network re-fetch.
func (s *Store) Get(id string) (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[id]
	if !ok {
		s.missLocked()
		return record.Record{}, false
	}
	rec, ok := s.touchLocked(e)
	if !ok {
		s.missLocked()
		return record.Record{}, false
	}
	s.hitLocked()
	return rec, true
}

// Has reports residency without counting an access.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[id]
	return ok
}

// Peek returns the record at the first browsable position >= pos, skipping
// tombstones and entries with a pending decision. The position found is
// returned alongside; on a miss it is SeqLen().
func (s *Store) Peek(pos int) (record.Record, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	for i := pos; i < len(s.seq); i++ {
		e := s.seq[i]
		if e == nil || !e.browsable() {
			continue
		}
		rec, ok := s.touchLocked(e)
		if !ok {
			continue // undecodable entry was dropped
		}
		s.hitLocked()
		return rec, i, true
	}
	return record.Record{}, len(s.seq), false
}

// Head is Peek without side effects: no hit is counted, recency is left
// alone and a compressed entry is decoded without being inflated. Use it for
// display polling.
func (s *Store) Head(pos int) (record.Record, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := max(pos, 0); i < len(s.seq); i++ {
		e := s.seq[i]
		if e == nil || !e.browsable() {
			continue
		}
		if !e.compressed {
			return e.rec.Clone(), i, true
		}
		if r, err := decodeRecord(e.payload); err == nil {
			return r, i, true
		}
	}
	return record.Record{}, len(s.seq), false
}

// Evict removes least recently accessed entries (ties broken by insertion
// order) until the store is within budget. Entries with a pending decision
// are never evicted. Returns the number of evicted entries.
func (s *Store) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforceLimitsLocked()
}

// Remove permanently deletes id (used after confirmed decisions).
// It is not counted as an eviction.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[id]
	if !ok {
		return false
	}
	s.dropLocked(e)
	s.opt.Metrics.Size(len(s.m), s.bytes)
	return true
}

// RemoveAt deletes whatever entry occupies sequence position pos and returns
// its key. Used to discard records that cannot be addressed by id.
func (s *Store) RemoveAt(pos int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos < 0 || pos >= len(s.seq) || s.seq[pos] == nil {
		return "", false
	}
	e := s.seq[pos]
	s.dropLocked(e)
	s.opt.Metrics.Size(len(s.m), s.bytes)
	return e.id, true
}

// MarkPending takes id out of the browsable sequence and pins it against
// eviction until ClearPending or Remove.
func (s *Store) MarkPending(id string, d record.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if e.pending != 0 {
		return fmt.Errorf("%w: %q", ErrPinned, id)
	}
	e.pending = d
	s.pendingN++
	return nil
}

// ClearPending reinstates id into the browsable pool. When its original slot
// still exists the entry returns there; otherwise (the sequence was replaced
// while it was pending) it is detached and Restart places it at the head of
// the next sequence. detached reports the latter case.
func (s *Store) ClearPending(id string) (detached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if e.pending == 0 {
		return false, fmt.Errorf("%w: %q", ErrNotPinned, id)
	}
	e.pending = 0
	s.pendingN--
	e.lastAccess = s.now()
	s.pol.OnAccess(e)
	return e.slot < 0, nil
}

// Pending returns the decision pinned on id, if any.
func (s *Store) Pending(id string) (record.Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[id]; ok && e.pending != 0 {
		return e.pending, true
	}
	return 0, false
}

// Restart replaces the sequence wholesale: tombstones are compacted away,
// pending entries are detached, and browsable entries that lost their slot
// go first. Returns the new sequence length.
func (s *Store) Restart() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphans []*entry
	for _, e := range s.m {
		if e.slot < 0 && e.browsable() {
			orphans = append(orphans, e)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].rank < orphans[j].rank })

	next := make([]*entry, 0, len(s.m))
	next = append(next, orphans...)
	for _, e := range s.seq {
		if e == nil {
			continue
		}
		if !e.browsable() {
			e.slot = -1
			continue
		}
		next = append(next, e)
	}
	for i, e := range next {
		e.slot = i
	}
	s.seq = next
	return len(next)
}

// SeqLen returns the length of the current sequence, tombstones included.
func (s *Store) SeqLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seq)
}

// Remaining counts browsable entries at or after pos.
func (s *Store) Remaining(pos int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	n := 0
	for i := pos; i < len(s.seq); i++ {
		if e := s.seq[i]; e != nil && e.browsable() {
			n++
		}
	}
	return n
}

// Browsable counts resident entries without a pending decision, wherever
// they sit (ahead of, behind, or outside the current sequence).
func (s *Store) Browsable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m) - s.pendingN
}

// Len returns the number of resident entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// IDs returns the ids of all resident records, used as fetch exclusions.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.m))
	for k := range s.m {
		if strings.HasPrefix(k, anonPrefix) {
			continue
		}
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// CompressIdle re-encodes entries untouched for longer than IdleWindow.
// Returns the number of entries compressed.
func (s *Store) CompressIdle() int {
	if s.opt.IdleWindow <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now() - int64(s.opt.IdleWindow)
	n := 0
	for e := s.tail; e != nil; e = e.prev {
		if e.compressed || e.lastAccess > cutoff {
			continue
		}
		payload, err := encodeRecord(e.rec)
		if err != nil {
			s.opt.Logger.Warn("compress failed", zap.String("id", e.id), zap.Error(err))
			continue
		}
		packed := int64(len(payload)) + entryOverhead
		if packed >= e.size {
			continue // not worth it
		}
		s.bytes += packed - e.size
		s.compressedN++
		s.compressedRaw += e.size
		s.compressedPacked += packed
		e.payload, e.size, e.compressed = payload, packed, true
		e.rec = record.Record{}
		s.compressions++
		s.opt.Metrics.Compress()
		n++
	}
	if n > 0 {
		s.opt.Metrics.Size(len(s.m), s.bytes)
	}
	return n
}

// -------------------- internals (mu held) --------------------

func (s *Store) now() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

func (s *Store) hitLocked() {
	s.hits++
	s.opt.Metrics.Hit()
}

func (s *Store) missLocked() {
	s.misses++
	s.opt.Metrics.Miss()
}

// touchLocked records an access: decompresses if needed, bumps lastAccess,
// and promotes per policy. Returns a copy safe to hand out. ok is false only
// when a compressed payload turned out to be corrupt (the entry is dropped).
func (s *Store) touchLocked(e *entry) (record.Record, bool) {
	inflated := false
	if e.compressed {
		r, err := decodeRecord(e.payload)
		if err != nil {
			s.opt.Logger.Error("dropping undecodable entry", zap.String("id", e.id), zap.Error(err))
			s.evictLocked(e, EvictCorrupt)
			return record.Record{}, false
		}
		s.inflateLocked(e, r)
		inflated = true
	}
	e.lastAccess = s.now()
	s.pol.OnAccess(e)
	rec := e.rec.Clone()
	if inflated {
		s.enforceLimitsLocked()
	}
	return rec, true
}

func (s *Store) inflateLocked(e *entry, r record.Record) {
	raw := e.rawSize + entryOverhead
	s.compressedN--
	s.compressedRaw -= raw
	s.compressedPacked -= e.size
	s.bytes += raw - e.size
	e.rec, e.payload, e.size, e.compressed = r, nil, raw, false
}

func (s *Store) overCountLocked() bool {
	return s.opt.Capacity > 0 && len(s.m) > s.opt.Capacity
}

func (s *Store) overBytesLocked() bool {
	return s.opt.MaxBytes > 0 && s.bytes > s.opt.MaxBytes
}

// enforceLimitsLocked evicts policy victims until both the count and the
// byte limits hold, or until only pinned entries remain.
func (s *Store) enforceLimitsLocked() int {
	evicted := 0
	for s.overCountLocked() || s.overBytesLocked() {
		reason := EvictMemory
		if s.overCountLocked() {
			reason = EvictCapacity
		}
		v := s.pol.Victim()
		if v == nil {
			s.opt.Logger.Warn("over budget with only pending entries",
				zap.Int("entries", len(s.m)), zap.Int64("bytes", s.bytes))
			break
		}
		s.evictLocked(v.(*entry), reason)
		evicted++
	}
	s.opt.Metrics.Size(len(s.m), s.bytes)
	return evicted
}

// evictLocked removes e, updates counters/metrics, and calls OnEvict.
func (s *Store) evictLocked(e *entry, reason EvictReason) {
	s.dropLocked(e)
	s.evictions++
	s.opt.Metrics.Evict(reason)
	if cb := s.opt.OnEvict; cb != nil {
		cb(e.id, reason)
	}
}

// dropLocked unlinks e from every index and releases its accounting.
func (s *Store) dropLocked(e *entry) {
	s.pol.OnRemove(e)
	s.unlink(e)
	delete(s.m, e.id)
	if e.slot >= 0 && e.slot < len(s.seq) && s.seq[e.slot] == e {
		s.seq[e.slot] = nil
	}
	e.slot = -1
	s.bytes -= e.size
	if s.bytes < 0 {
		s.bytes = 0
	}
	if e.compressed {
		s.compressedN--
		s.compressedRaw -= e.rawSize + entryOverhead
		s.compressedPacked -= e.size
	}
	if e.pending != 0 {
		s.pendingN--
	}
	s.sumCreated -= e.createdAt
}

// insertFront links e at MRU in O(1).
func (s *Store) insertFront(e *entry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

// moveToFront promotes e to MRU in O(1).
func (s *Store) moveToFront(e *entry) {
	if e == s.head {
		return
	}
	s.unlink(e)
	s.insertFront(e)
}

// unlink detaches e from the recency list in O(1).
func (s *Store) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.head == e {
		s.head = e.next
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// -------------------- policy hooks --------------------

// storeHooks adapts the store's list operations to policy.Hooks.
type storeHooks struct{ s *Store }

func (h storeHooks) MoveToFront(x policy.Node) { h.s.moveToFront(x.(*entry)) }
func (h storeHooks) PushFront(x policy.Node)   { h.s.insertFront(x.(*entry)) }
func (h storeHooks) Remove(x policy.Node)      { h.s.unlink(x.(*entry)) }

// Back and Prev return an untyped nil at the ends so policies can compare
// against nil.
func (h storeHooks) Back() policy.Node {
	if h.s.tail == nil {
		return nil
	}
	return h.s.tail
}

func (h storeHooks) Prev(x policy.Node) policy.Node {
	if p := x.(*entry).prev; p != nil {
		return p
	}
	return nil
}

func (h storeHooks) Len() int { return len(h.s.m) }
