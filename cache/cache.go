package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkrasnov/hybridcache/internal/flight"
	"github.com/dkrasnov/hybridcache/internal/util"
	"github.com/dkrasnov/hybridcache/remote"
)

// remoteDeleteParallelism caps the fan-out of best-effort remote deletes
// during tag invalidation.
const remoteDeleteParallelism = 8

// engine composes the local tier shards, the remote tier adapter, the
// in-flight registry and the refresh scheduler behind the Cache interface.
type engine[V any] struct {
	shards []*shard[V]
	opt    Options[V]
	store  remote.Store
	codec  Codec[V]
	log    *zap.Logger

	// in-flight registry for coalescing loads in GetOrSet.
	sf flight.Group[V]

	ref    *refresher[V]
	total  atomic.Int64 // resident entries across all shards
	closed atomic.Bool
}

// New constructs an engine with the provided Options.
// Defaults:
//   - nil Metrics  -> NoopMetrics
//   - nil Logger   -> zap.NewNop()
//   - nil Codec    -> JSONCodec
//   - Shards <= 0  -> auto, rounded up to the next power of two
func New[V any](opt Options[V]) Cache[V] {
	if opt.Capacity <= 0 {
		panic("Capacity must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Codec == nil {
		opt.Codec = JSONCodec[V]{}
	}

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	c := &engine[V]{
		opt:   opt,
		store: opt.Remote,
		codec: opt.Codec,
		log:   opt.Logger,
	}

	perShardCap := (opt.Capacity + sh - 1) / sh // split capacity evenly (ceil)
	c.shards = make([]*shard[V], sh)
	for i := range c.shards {
		c.shards[i] = newShard[V](perShardCap, c.now, opt.Metrics, opt.OnEvict, &c.total)
	}

	if opt.RefreshWorkers >= 0 {
		workers := opt.RefreshWorkers
		if workers == 0 {
			workers = 2
		}
		queue := opt.RefreshQueueSize
		if queue <= 0 {
			queue = 256
		}
		c.ref = newRefresher(c, workers, queue)
	}

	// return pointer-to-impl as the interface (avoids unexported-return lint)
	return c
}

// ---- Cache[V] implementation ----

// GetOrSet implements the read path described on the Cache interface.
func (c *engine[V]) GetOrSet(ctx context.Context, key string, factory Factory[V], pol Policy) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	pol = pol.withDefaults(c.opt.DefaultPolicy)

	// Fast path: a shard read, no in-flight slot involved.
	s := c.shardFor(key)
	if h, ok := s.get(key); ok && h.state != stateHardStale {
		if h.state == stateSoftStale && h.refresh {
			c.scheduleRefresh(key, h.gen, factory, pol)
		}
		return h.val, nil
	}
	// Absent or hard-stale: the value (if any) is no longer authoritative
	// and we must load. A hard-stale entry stays resident as the fail-safe
	// candidate.

	if factory == nil {
		return zero, ErrNoFactory
	}

	// The load runs detached from this caller's context: followers that
	// joined the flight may still need the result after we are gone.
	loadCtx := context.WithoutCancel(ctx)
	v, err, shared := c.sf.Do(ctx, key, func() (V, error) {
		return c.load(loadCtx, key, factory, pol)
	})
	if shared {
		c.opt.Metrics.Coalesced()
	}
	return v, err
}

// Set writes through to both tiers.
func (c *engine[V]) Set(ctx context.Context, key string, v V, pol Policy) {
	if c.closed.Load() {
		return
	}
	pol = pol.withDefaults(c.opt.DefaultPolicy)
	now := c.now()
	m := metaFromPolicy(pol, now)
	c.shardFor(key).commit(key, v, m)
	c.remoteSet(ctx, key, v, m, now)
}

// Remove deletes key from the local tier and best-effort remotely.
func (c *engine[V]) Remove(ctx context.Context, key string) bool {
	if c.closed.Load() {
		return false
	}
	ok := c.shardFor(key).remove(key)
	c.remoteDelete(ctx, key)
	return ok
}

// InvalidateByTag removes every entry tagged with tag. Local removal is
// synchronous, so reads issued after this call miss; remote removal is
// best-effort and bounded-parallel.
func (c *engine[V]) InvalidateByTag(ctx context.Context, tag string) int {
	if c.closed.Load() {
		return 0
	}
	var keys []string
	for _, s := range c.shards {
		keys = append(keys, s.invalidateTag(tag)...)
	}
	if c.store != nil && len(keys) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(remoteDeleteParallelism)
		for _, k := range keys {
			k := k
			g.Go(func() error {
				c.remoteDelete(gctx, k)
				return nil
			})
		}
		_ = g.Wait()
	}
	return len(keys)
}

// Len returns the total number of resident entries across all shards.
func (c *engine[V]) Len() int {
	return int(c.total.Load())
}

// Close stops the refresh workers and marks the engine closed.
// Future operations are rejected; the remote store stays open.
func (c *engine[V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.ref != nil {
		c.ref.shutdown()
	}
	return nil
}

// ---- load path (runs as the flight leader) ----

// load is executed by exactly one goroutine per key at a time. It consults
// the remote tier, then the factory, and on factory failure falls back to
// any stale value still inside its fail-safe window.
func (c *engine[V]) load(ctx context.Context, key string, factory Factory[V], pol Policy) (V, error) {
	s := c.shardFor(key)

	// Double-check: a previous leader may have committed while we were
	// acquiring the in-flight slot.
	if h, ok := s.get(key); ok && h.state != stateHardStale {
		if h.state == stateSoftStale && h.refresh {
			c.scheduleRefresh(key, h.gen, factory, pol)
		}
		return h.val, nil
	}

	// Remote tier. Any error here is already degraded to a miss.
	var remoteStale *envelope
	if env, ok := c.remoteGet(ctx, key); ok {
		now := c.now()
		hard := timeNano(env.HardExpiresAt)
		if hard == 0 || now < hard {
			v, err := c.codec.Unmarshal(env.Payload)
			if err == nil {
				s.commit(key, v, c.metaFromEnvelope(env, pol, now))
				return v, nil
			}
			c.opt.Metrics.RemoteError()
			c.log.Warn("remote payload does not decode, falling through to factory",
				zap.String("key", key), zap.Error(err))
		} else {
			// Past its hard deadline but the remote key still exists, so
			// the fail-safe window has not closed. Keep it as a candidate.
			remoteStale = env
		}
	}

	v, err := factory(ctx)
	if err != nil {
		if sv, ok := s.staleValue(key); ok {
			c.servedStale(key, err)
			return sv, nil
		}
		if remoteStale != nil && pol.FailSafeMaxDuration > 0 {
			if sv, derr := c.codec.Unmarshal(remoteStale.Payload); derr == nil {
				c.servedStale(key, err)
				return sv, nil
			}
		}
		var zero V
		return zero, &FactoryError{Key: key, Err: err}
	}

	now := c.now()
	m := metaFromPolicy(pol, now)
	s.commit(key, v, m)
	c.remoteSet(ctx, key, v, m, now)
	return v, nil
}

// servedStale records a fail-safe serve: the caller gets the stale value,
// the suppressed error goes to logs, metrics and the callback.
func (c *engine[V]) servedStale(key string, err error) {
	c.opt.Metrics.FailSafe()
	c.log.Warn("load failed, serving stale value inside fail-safe window",
		zap.String("key", key), zap.Error(err))
	if cb := c.opt.OnFailSafe; cb != nil {
		cb(key, err)
	}
}

// ---- remote tier boundary ----
// Errors stop here: logged, counted, degraded to misses. They never reach
// a caller.

func (c *engine[V]) remoteGet(ctx context.Context, key string) (*envelope, bool) {
	if c.store == nil {
		return nil, false
	}
	payload, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.opt.Metrics.RemoteError()
		c.log.Warn("remote tier read failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		c.opt.Metrics.RemoteMiss()
		return nil, false
	}
	env, err := decodeEnvelope(payload)
	if err != nil {
		c.opt.Metrics.RemoteError()
		c.log.Warn("remote tier envelope is malformed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	c.opt.Metrics.RemoteHit()
	return env, true
}

func (c *engine[V]) remoteSet(ctx context.Context, key string, v V, m entryMeta, now int64) {
	if c.store == nil {
		return
	}
	payload, err := c.codec.Marshal(v)
	if err != nil {
		c.log.Warn("value does not encode, keeping it local-only",
			zap.String("key", key), zap.Error(err))
		return
	}
	data, err := encodeEnvelope(payload, m)
	if err != nil {
		c.log.Warn("envelope does not encode, keeping value local-only",
			zap.String("key", key), zap.Error(err))
		return
	}
	// The remote copy lives until the fail-safe window closes, so other
	// instances can use it for stale fallback too.
	var ttl time.Duration
	if m.failSafeExp != 0 {
		ttl = time.Duration(m.failSafeExp - now)
		if ttl <= 0 {
			return
		}
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.opt.Metrics.RemoteError()
		c.log.Warn("remote tier write failed, value stays local-only",
			zap.String("key", key), zap.Error(err))
	}
}

func (c *engine[V]) remoteDelete(ctx context.Context, key string) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.opt.Metrics.RemoteError()
		c.log.Warn("remote tier delete failed",
			zap.String("key", key), zap.Error(err))
	}
}

// ---- helpers ----

// shardFor picks a shard by hashing the key and masking with len-1.
// len(c.shards) is guaranteed to be a power of two.
func (c *engine[V]) shardFor(key string) *shard[V] {
	h := util.Fnv64a(key)
	return c.shards[util.ShardIndex(h, len(c.shards))]
}

// now returns the current time in UnixNano, honoring Options.Clock.
func (c *engine[V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// metaFromPolicy derives the absolute deadlines of a freshly loaded entry.
func metaFromPolicy(pol Policy, now int64) entryMeta {
	m := entryMeta{
		createdAt:  now,
		lastGoodAt: now,
		tags:       pol.Tags,
		sliding:    pol.Sliding,
	}
	if pol.Duration > 0 {
		m.dur = pol.Duration
		m.hardExp = now + int64(pol.Duration)
		m.failSafeExp = m.hardExp
		if pol.FailSafeMaxDuration > 0 {
			m.fsDur = pol.FailSafeMaxDuration
			m.failSafeExp += int64(pol.FailSafeMaxDuration)
		}
		if pol.RefreshAheadRatio > 0 {
			m.ratio = pol.RefreshAheadRatio
			m.softExp = now + int64(float64(pol.Duration)*pol.RefreshAheadRatio)
		}
	}
	return m
}

// metaFromEnvelope rebuilds entry deadlines from a remote envelope. The
// envelope carries the writer's absolute deadlines; the fail-safe window
// and sliding behavior come from the reader's own policy.
func (c *engine[V]) metaFromEnvelope(env *envelope, pol Policy, now int64) entryMeta {
	m := entryMeta{
		createdAt:  timeNano(env.CreatedAt),
		lastGoodAt: timeNano(env.LastGoodAt),
		softExp:    timeNano(env.SoftExpiresAt),
		hardExp:    timeNano(env.HardExpiresAt),
		tags:       env.Tags,
		sliding:    pol.Sliding,
	}
	if m.createdAt == 0 {
		m.createdAt = now
	}
	if m.lastGoodAt == 0 {
		m.lastGoodAt = m.createdAt
	}
	m.failSafeExp = m.hardExp
	if m.hardExp != 0 && pol.FailSafeMaxDuration > 0 {
		m.fsDur = pol.FailSafeMaxDuration
		m.failSafeExp += int64(pol.FailSafeMaxDuration)
	}
	if pol.Duration > 0 {
		m.dur = pol.Duration
	}
	if pol.RefreshAheadRatio > 0 {
		m.ratio = pol.RefreshAheadRatio
	}
	return m
}
