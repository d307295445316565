package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkrasnov/hybridcache/internal/util"
)

// shard is an independent partition of the local tier with its own lock,
// map, tag index, and an intrusive doubly linked list (head=MRU, tail=LRU).
//
// The tag index and the entry map are mutated under the same lock, so the
// invariant "key is in tags[T] iff the live entry's tags contain T" holds
// even under concurrent Set / InvalidateByTag.
type shard[V any] struct {
	// ---- guarded by mu ----
	mu     sync.Mutex
	m      map[string]*entry[V]
	head   *entry[V] // MRU
	tail   *entry[V] // LRU
	len    int
	cap    int // per-shard entry capacity
	tags   map[string]map[string]struct{}
	genSeq uint64 // monotone generation source for this shard

	nowFn   func() int64
	metrics Metrics
	onEvict func(key string, reason EvictReason)
	total   *atomic.Int64 // engine-wide resident entry count

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

func newShard[V any](capacity int, nowFn func() int64, metrics Metrics, onEvict func(string, EvictReason), total *atomic.Int64) *shard[V] {
	return &shard[V]{
		m:       make(map[string]*entry[V], capacity),
		cap:     capacity,
		tags:    make(map[string]map[string]struct{}),
		nowFn:   nowFn,
		metrics: metrics,
		onEvict: onEvict,
		total:   total,
	}
}

// entryMeta carries everything a commit needs besides the value. It is
// built by the engine either from a Policy (fresh load) or from a remote
// tier envelope (deadlines already absolute).
type entryMeta struct {
	createdAt   int64
	lastGoodAt  int64
	softExp     int64
	hardExp     int64
	failSafeExp int64
	tags        []string
	dur         time.Duration
	fsDur       time.Duration
	ratio       float64
	sliding     bool
}

// lookup is the result of a read-path get.
type lookup[V any] struct {
	val   V
	state entryState
	gen   uint64
	// refresh is set when this read is the one that should schedule the
	// background refresh for a soft-stale entry (at most one at a time).
	refresh bool
}

// get classifies the entry for the coordinator read path. Fresh and
// soft-stale reads count as hits and promote the entry; a hard-stale entry
// is reported (it backs the fail-safe path) but counts as a miss, and an
// entry past its fail-safe window is purged.
func (s *shard[V]) get(k string) (lookup[V], bool) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[k]
	if !ok {
		s.misses.Add(1)
		s.metrics.Miss()
		return lookup[V]{}, false
	}

	switch st := e.stateAt(now); st {
	case stateExpired:
		s.evictLocked(e, EvictExpired)
		s.misses.Add(1)
		s.metrics.Miss()
		return lookup[V]{}, false

	case stateHardStale:
		s.misses.Add(1)
		s.metrics.Miss()
		return lookup[V]{val: e.val, state: st, gen: e.gen}, true

	case stateSoftStale:
		s.moveToFront(e)
		res := lookup[V]{val: e.val, state: st, gen: e.gen}
		if !e.refreshing {
			e.refreshing = true
			res.refresh = true
		}
		s.hits.Add(1)
		s.metrics.Hit()
		return res, true

	default: // stateFresh
		s.moveToFront(e)
		e.slide(now)
		s.hits.Add(1)
		s.metrics.Hit()
		return lookup[V]{val: e.val, state: stateFresh, gen: e.gen}, true
	}
}

// staleValue re-reads the entry for the fail-safe path after a reload
// failure. Any value still inside its fail-safe window qualifies,
// including one that a concurrent leader just committed fresh.
func (s *shard[V]) staleValue(k string) (V, bool) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[k]
	if !ok {
		var zero V
		return zero, false
	}
	if e.stateAt(now) == stateExpired {
		s.evictLocked(e, EvictExpired)
		var zero V
		return zero, false
	}
	return e.val, true
}

// commit installs a new entry for k, replacing any previous one, and
// returns the generation assigned to it.
func (s *shard[V]) commit(k string, v V, m entryMeta) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(k, v, m)
}

// commitIfGen installs a new entry only if the current entry for k still
// carries the expected generation. A background refresh uses this so that
// an invalidation (or a newer commit) that happened while the refresh was
// in flight wins and the refresh result is discarded.
func (s *shard[V]) commitIfGen(k string, v V, m entryMeta, expect uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.m[k]
	if !ok || cur.gen != expect {
		return false
	}
	s.commitLocked(k, v, m)
	return true
}

func (s *shard[V]) commitLocked(k string, v V, m entryMeta) uint64 {
	s.genSeq++
	e := &entry[V]{
		key:         k,
		val:         v,
		createdAt:   m.createdAt,
		lastGoodAt:  m.lastGoodAt,
		softExp:     m.softExp,
		hardExp:     m.hardExp,
		failSafeExp: m.failSafeExp,
		gen:         s.genSeq,
		tags:        m.tags,
		dur:         m.dur,
		fsDur:       m.fsDur,
		ratio:       m.ratio,
		sliding:     m.sliding,
	}

	if old, ok := s.m[k]; ok {
		s.removeTagsLocked(old)
		s.removeNode(old)
	}
	s.m[k] = e
	s.insertFront(e)
	s.addTagsLocked(e)

	s.enforceCapacityLocked()
	s.metrics.Size(int(s.total.Load()))
	return e.gen
}

// clearRefreshing re-arms refresh-ahead for k after a refresh task
// finished without committing (failure, discard, or dropped task). The
// generation check keeps a stale task from clearing the flag of a newer
// entry whose own refresh may still be in flight.
func (s *shard[V]) clearRefreshing(k string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[k]; ok && e.gen == gen {
		e.refreshing = false
	}
}

// remove deletes k if present and returns true on success.
func (s *shard[V]) remove(k string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[k]
	if !ok {
		return false
	}
	s.evictLocked(e, EvictExplicit)
	s.metrics.Size(int(s.total.Load()))
	return true
}

// invalidateTag removes every entry of this shard tagged with tag and
// returns the removed keys (the engine propagates the deletes to the
// remote tier best-effort).
func (s *shard[V]) invalidateTag(tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.tags[tag]
	if !ok || len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		if e, ok := s.m[k]; ok {
			keys = append(keys, k)
			s.evictLocked(e, EvictExplicit)
		}
	}
	delete(s.tags, tag)
	s.metrics.Size(int(s.total.Load()))
	return keys
}

// entries returns the number of resident entries in this shard.
func (s *shard[V]) entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len
}

// -------------------- internals (mu held) --------------------

func (s *shard[V]) addTagsLocked(e *entry[V]) {
	for _, t := range e.tags {
		set, ok := s.tags[t]
		if !ok {
			set = make(map[string]struct{})
			s.tags[t] = set
		}
		set[e.key] = struct{}{}
	}
}

func (s *shard[V]) removeTagsLocked(e *entry[V]) {
	for _, t := range e.tags {
		set, ok := s.tags[t]
		if !ok {
			continue
		}
		delete(set, e.key)
		if len(set) == 0 {
			delete(s.tags, t)
		}
	}
}

// insertFront inserts e at MRU in O(1).
func (s *shard[V]) insertFront(e *entry[V]) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
	s.len++
	s.total.Add(1)
}

// moveToFront promotes e to MRU in O(1).
func (s *shard[V]) moveToFront(e *entry[V]) {
	if e == s.head {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.tail == e {
		s.tail = e.prev
	}
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

// removeNode detaches e from the list and updates counters in O(1).
func (s *shard[V]) removeNode(e *entry[V]) {
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
	s.len--
	s.total.Add(-1)
}

// evictLocked removes the entry, keeps the tag index consistent, and fires
// metrics plus the eviction callback.
func (s *shard[V]) evictLocked(e *entry[V], reason EvictReason) {
	s.removeTagsLocked(e)
	s.removeNode(e)
	delete(s.m, e.key)
	s.evicts.Add(1)
	s.metrics.Evict(reason)
	if cb := s.onEvict; cb != nil {
		// Runs under the shard lock; callbacks must stay lightweight.
		cb(e.key, reason)
	}
}

// enforceCapacityLocked evicts LRU entries until the count limit holds.
func (s *shard[V]) enforceCapacityLocked() {
	for s.len > s.cap {
		tail := s.tail
		if tail == nil {
			break
		}
		s.evictLocked(tail, EvictCapacity)
	}
}
