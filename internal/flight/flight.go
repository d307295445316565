// Package flight implements the per-key in-flight registry used to coalesce
// concurrent loads: at most one computation runs per key, and every caller
// that arrives while it runs receives the same result.
package flight

import (
	"context"
	"sync"
)

// Group tracks at most one in-flight computation per key.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing (val, err) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - The registry slot is removed only after the result has been
//     published, so a caller can never start a second computation for a
//     key whose result has not yet been distributed.
//   - Cancelling ctx in a follower unblocks only that follower; it does
//     NOT cancel the leader's fn. Cancellation of the work itself must be
//     handled inside fn.
type Group[V any] struct {
	mu sync.Mutex
	m  map[string]*call[V]
}

type call[V any] struct {
	done    chan struct{} // closed when val/err are published
	val     V
	err     error
	waiters int // followers joined while in flight; guarded by Group.mu
}

// Do runs fn once for the given key. Concurrent calls with the same key wait
// for the shared result. The shared return reports whether the result was
// (or will be) observed by more than one caller.
//
// If ctx is cancelled while waiting as a follower, that follower returns
// ctx.Err() while the leader continues to run fn to completion.
func (g *Group[V]) Do(ctx context.Context, key string, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call[V])
	}
	if c, ok := g.m[key]; ok {
		// Join the in-flight computation as a follower.
		c.waiters++
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.err, true
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err(), true
		}
	}

	// We are the leader for this key.
	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// Execute fn outside the lock.
	v, err = fn()

	// Publish the result, wake followers, then release the slot.
	c.val, c.err = v, err
	close(c.done)

	g.mu.Lock()
	shared = c.waiters > 0
	delete(g.m, key)
	g.mu.Unlock()

	return v, err, shared
}
