// Package cache implements a hybrid two-tier caching engine: a fast,
// sharded in-process tier backed by an optional shared remote tier
// (typically Redis), with per-key request coalescing, tag-based bulk
// invalidation, stale-value fail-safe, and proactive refresh-ahead.
//
// # Design
//
//   - Concurrency: the local tier is split into shards, each protected by
//     its own mutex. Shard locks are held only for map/list work, never
//     across a factory call or a remote round trip. The only structure
//     held across a load is the per-key in-flight slot.
//
//   - Coalescing: concurrent GetOrSet calls for the same cold key share a
//     single load. One caller becomes the leader and consults the remote
//     tier and then the factory; everyone else waits for the leader's
//     outcome. A follower whose context expires stops waiting, but the
//     load itself runs to completion for the remaining waiters.
//
//   - Expiration: every entry carries a soft and a hard deadline, derived
//     from Policy.Duration and Policy.RefreshAheadRatio, evaluated lazily
//     at read time. A read past the soft deadline returns the value
//     immediately and schedules exactly one background refresh. A read
//     past the hard deadline goes through the load path again.
//
//   - Fail-safe: when a load fails and a stale value still exists inside
//     Policy.FailSafeMaxDuration past its hard deadline, the stale value
//     is served with a nil error; the suppressed failure is observable
//     via logs, Metrics.FailSafe and Options.OnFailSafe. Past that window
//     the entry is purged and callers see the error.
//
//   - Remote tier: an interface with Get/Set/Delete over byte payloads
//     (package remote provides a Redis implementation). Every remote
//     failure is degraded to a miss at the boundary: the engine loses
//     cross-instance sharing, never correctness. Values travel as a JSON
//     envelope of codec-encoded payload plus expiration metadata, so
//     another instance can rebuild the entry's lifecycle.
//
//   - Tags: entries may carry tags; InvalidateByTag removes all tagged
//     entries from the local tier synchronously and from the remote tier
//     best-effort. The tag index is maintained under the same shard locks
//     as the entries, so it never disagrees with the resident set.
//
//   - Refresh-ahead: a small worker pool re-runs factories for
//     soft-expired entries. A refresh commits through a per-entry
//     generation check, so a result computed before an invalidation is
//     discarded instead of resurrecting the old value.
//
// # Basic usage
//
//	c := cache.New[Profile](cache.Options[Profile]{
//	    Capacity: 10_000,
//	    DefaultPolicy: cache.Policy{
//	        Duration:            5 * time.Minute,
//	        FailSafeMaxDuration: time.Hour,
//	        RefreshAheadRatio:   0.8,
//	    },
//	})
//	defer c.Close()
//
//	p, err := c.GetOrSet(ctx, "user:42", func(ctx context.Context) (Profile, error) {
//	    return loadProfile(ctx, 42)
//	}, cache.Policy{Tags: []string{"users"}})
//
// # With a remote tier
//
//	store, err := remote.NewRedis(remote.RedisConfig{Addr: "localhost:6379"})
//	if err != nil { ... }
//	defer store.Close()
//
//	c := cache.New[Profile](cache.Options[Profile]{
//	    Capacity: 10_000,
//	    Remote:   store,
//	})
//
// # Invalidation
//
//	c.InvalidateByTag(ctx, "users") // every entry tagged "users" is gone
//	c.Remove(ctx, "user:42")
//
// All methods on Cache are safe for concurrent use. Local operations are
// amortized O(1): a map access plus constant-time list adjustments under a
// shard lock.
package cache
