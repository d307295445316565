package cache

import "time"

// entryState is the lazily evaluated lifecycle position of an entry.
// No timer thread scans entries; the state is derived from the clock at
// read time.
type entryState int

const (
	// stateFresh — before the soft deadline; the value is authoritative.
	stateFresh entryState = iota
	// stateSoftStale — past the soft deadline but before the hard one;
	// still served immediately, a background refresh should run.
	stateSoftStale
	// stateHardStale — past the hard deadline but inside the fail-safe
	// window; only served when a reload attempt just failed.
	stateHardStale
	// stateExpired — past the fail-safe window; the entry is purged on
	// access and never served again.
	stateExpired
)

// entry is an intrusive doubly linked list element owned by a shard.
// Entries are committed by replacement: a refresh or Set installs a new
// entry with a higher generation rather than mutating the value in place.
// Deadline fields may be pushed forward under the shard lock for sliding
// expiration.
type entry[V any] struct {
	key string
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *entry[V]
	next *entry[V]

	createdAt  int64 // UnixNano of the commit
	lastGoodAt int64 // UnixNano of the last successful load or refresh

	// Deadlines in UnixNano. softExp == 0 disables refresh-ahead,
	// hardExp == 0 disables expiration, failSafeExp == hardExp disables
	// the fail-safe window.
	softExp     int64
	hardExp     int64
	failSafeExp int64

	// gen is the shard-scoped generation assigned at commit. A background
	// refresh captures it at schedule time and commits only if it still
	// matches, so an invalidation that happened meanwhile wins.
	gen uint64

	tags []string

	// Policy bits needed after commit.
	dur     time.Duration // hard TTL, for sliding extension
	fsDur   time.Duration // fail-safe window length
	ratio   float64       // refresh-ahead ratio, for sliding extension
	sliding bool

	// refreshing dedups refresh-ahead: at most one scheduled refresh per
	// key at a time. Guarded by the shard lock.
	refreshing bool
}

// stateAt classifies the entry at the given instant.
func (e *entry[V]) stateAt(now int64) entryState {
	if e.hardExp == 0 || now < e.hardExp {
		if e.softExp != 0 && now >= e.softExp {
			return stateSoftStale
		}
		return stateFresh
	}
	if now < e.failSafeExp {
		return stateHardStale
	}
	return stateExpired
}

// slide pushes all deadlines forward as if the entry had just been
// committed. Called on fresh reads of sliding entries, under the shard lock.
func (e *entry[V]) slide(now int64) {
	if !e.sliding || e.dur <= 0 {
		return
	}
	e.hardExp = now + int64(e.dur)
	e.failSafeExp = e.hardExp
	if e.fsDur > 0 {
		e.failSafeExp += int64(e.fsDur)
	}
	if e.ratio > 0 {
		e.softExp = now + int64(float64(e.dur)*e.ratio)
	}
}
