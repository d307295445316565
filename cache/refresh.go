package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// refreshTask re-runs a factory for a soft-expired entry. gen is the
// entry generation at schedule time; the result commits only if it still
// matches, so an invalidation that raced the refresh wins.
type refreshTask[V any] struct {
	key     string
	gen     uint64
	factory Factory[V]
	pol     Policy
}

// refresher is the refresh-ahead scheduler: a fixed worker pool draining a
// bounded queue. Submission never blocks a foreground read; when the queue
// is full the task is dropped and the entry simply stays soft-stale until
// a later read schedules again.
type refresher[V any] struct {
	c     *engine[V]
	tasks chan refreshTask[V]
	quit  chan struct{}
	wg    sync.WaitGroup
}

func newRefresher[V any](c *engine[V], workers, queueSize int) *refresher[V] {
	r := &refresher[V]{
		c:     c,
		tasks: make(chan refreshTask[V], queueSize),
		quit:  make(chan struct{}),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

// submit enqueues a task without blocking. Returns false if the queue is
// full or the scheduler is stopping.
func (r *refresher[V]) submit(t refreshTask[V]) bool {
	select {
	case <-r.quit:
		return false
	default:
	}
	select {
	case r.tasks <- t:
		return true
	default:
		return false
	}
}

// shutdown stops the workers. Queued tasks are abandoned; that is fine,
// soft-stale entries keep serving until their hard deadline.
func (r *refresher[V]) shutdown() {
	close(r.quit)
	r.wg.Wait()
}

func (r *refresher[V]) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case t := <-r.tasks:
			r.c.runRefresh(t)
		}
	}
}

// scheduleRefresh hands a soft-stale entry to the scheduler. The caller's
// read already flagged the entry as refreshing; if the task cannot be
// queued the flag is cleared so a later read can try again.
func (c *engine[V]) scheduleRefresh(key string, gen uint64, factory Factory[V], pol Policy) {
	if factory == nil || c.ref == nil {
		c.shardFor(key).clearRefreshing(key, gen)
		return
	}
	t := refreshTask[V]{key: key, gen: gen, factory: factory, pol: pol}
	if !c.ref.submit(t) {
		c.shardFor(key).clearRefreshing(key, gen)
		c.log.Debug("refresh queue full, dropping task", zap.String("key", key))
	}
}

// runRefresh executes one background refresh. It re-enters the same
// in-flight registry as foreground loads, so a refresh never runs a second
// factory next to a foreground leader for the same key. No caller blocks
// on the outcome.
func (c *engine[V]) runRefresh(t refreshTask[V]) {
	ctx := context.Background()
	s := c.shardFor(t.key)
	committed := false

	_, err, _ := c.sf.Do(ctx, t.key, func() (V, error) {
		v, ferr := t.factory(ctx)
		if ferr != nil {
			var zero V
			return zero, ferr
		}
		now := c.now()
		m := metaFromPolicy(t.pol, now)
		if s.commitIfGen(t.key, v, m, t.gen) {
			committed = true
			c.opt.Metrics.Refresh()
			c.remoteSet(ctx, t.key, v, m, now)
		} else {
			c.log.Debug("refresh result discarded, entry generation changed",
				zap.String("key", t.key))
		}
		return v, nil
	})

	if err != nil {
		// The current value stays authoritative until its hard deadline;
		// the fail-safe window covers it after that.
		c.log.Warn("background refresh failed",
			zap.String("key", t.key), zap.Error(err))
	}
	if !committed {
		// Covers failures, discards, and flights we merely joined: re-arm
		// refresh-ahead, but only for the entry this task was scheduled
		// against. A newer entry keeps its own flag.
		s.clearRefreshing(t.key, t.gen)
	}
}
