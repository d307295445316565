package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dkrasnov/hybridcache/remote"
)

// Factory produces a fresh value for a key on a cache miss. It is supplied
// per call and closes over the key. The engine invokes a factory at most
// once per key at any instant within one process; concurrent callers share
// the single invocation's outcome. The supplied context is detached from
// any individual caller, so one caller giving up does not abort a load that
// other waiters depend on.
type Factory[V any] func(ctx context.Context) (V, error)

// Policy controls expiration and resilience for a single write.
// Zero-valued fields fall back to Options.DefaultPolicy.
type Policy struct {
	// Duration is the hard TTL. After it elapses the value is no longer
	// authoritative and a read goes through the load path again.
	// Zero means "use the default"; a negative value disables expiration.
	Duration time.Duration

	// Sliding pushes the expiration deadlines forward by Duration on every
	// read served from the fresh window.
	Sliding bool

	// FailSafeMaxDuration is how long past the hard TTL a stale value may
	// still be served when a reload attempt fails. Zero means "use the
	// default"; a negative value disables fail-safe for this entry.
	FailSafeMaxDuration time.Duration

	// RefreshAheadRatio is the fraction of Duration at which the entry
	// becomes soft-expired: reads still return it immediately but a
	// background refresh is scheduled. Valid range is (0, 1); zero means
	// "use the default". Any value outside the valid range, negative or
	// >= 1, disables refresh-ahead for the entry: a soft deadline at or
	// past the hard one could never fire.
	RefreshAheadRatio float64

	// Tags attach the entry to invalidation groups (see InvalidateByTag).
	Tags []string
}

// withDefaults fills zero-valued fields from d and normalizes sentinels.
// Negative values are explicit "disabled" markers and survive the merge.
func (p Policy) withDefaults(d Policy) Policy {
	if p.Duration == 0 {
		p.Duration = d.Duration
	}
	if p.FailSafeMaxDuration == 0 {
		p.FailSafeMaxDuration = d.FailSafeMaxDuration
	}
	if p.RefreshAheadRatio == 0 {
		p.RefreshAheadRatio = d.RefreshAheadRatio
	}
	if !p.Sliding {
		p.Sliding = d.Sliding
	}
	if p.Tags == nil {
		p.Tags = d.Tags
	}
	// A ratio >= 1 would put the soft deadline at or past the hard one;
	// treat it like any other out-of-range value and disable refresh-ahead.
	if p.RefreshAheadRatio >= 1 {
		p.RefreshAheadRatio = 0
	}
	return p
}

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity — removed to satisfy the entry capacity limit (LRU order).
	EvictCapacity EvictReason = iota
	// EvictExpired — the fail-safe window elapsed with no successful
	// refresh; purged lazily on access.
	EvictExpired
	// EvictExplicit — removed by Remove or InvalidateByTag.
	EvictExplicit
)

// Metrics exposes engine-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)

	// Remote tier signals. RemoteError covers both failed reads (degraded
	// to a miss) and failed writes (value stays local-only).
	RemoteHit()
	RemoteMiss()
	RemoteError()

	// Refresh is a completed-and-committed background refresh.
	Refresh()
	// FailSafe is a stale value served because a reload failed.
	FailSafe()
	// Coalesced is a load whose result was shared by multiple callers.
	Coalesced()
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the engine. Zero values are safe; sane defaults are
// applied in New():
//   - Shards <= 0      => auto (rounded up to power of two)
//   - nil Metrics      => NoopMetrics
//   - nil Logger       => zap.NewNop()
//   - nil Codec        => JSONCodec
//   - RefreshWorkers 0 => 2
type Options[V any] struct {
	// Capacity is the local tier entry count limit. Least recently used
	// entries are evicted beyond it. Must be > 0.
	Capacity int

	// Shards defines the number of local tier shards. If 0, an automatic
	// value is chosen (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// DefaultPolicy supplies expiration defaults for calls whose Policy
	// leaves fields zero-valued.
	DefaultPolicy Policy

	// Remote is the shared distributed tier. Nil runs the engine local-only.
	// Errors from this tier are logged and degrade to misses; they never
	// fail a call. The engine does not own the store and will not close it.
	Remote remote.Store

	// Codec serializes values for the remote tier. Nil => JSONCodec.
	Codec Codec[V]

	// RefreshWorkers is the number of background refresh goroutines
	// (0 => 2). A negative value disables the scheduler entirely.
	RefreshWorkers int
	// RefreshQueueSize bounds the pending refresh queue (0 => 256).
	// When the queue is full new refresh tasks are dropped; the entry just
	// stays soft-stale and a later read schedules again.
	RefreshQueueSize int

	// OnEvict is called after an entry leaves the local tier. It runs under
	// the shard lock; keep callbacks lightweight.
	OnEvict func(key string, reason EvictReason)
	// OnFailSafe is called when a stale value is served in place of a
	// failed reload, with the error that was suppressed.
	OnFailSafe func(key string, err error)

	Metrics Metrics
	Logger  *zap.Logger

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock
}
