package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/hybridcache/remote"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, remote.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := remote.NewRedisFromClient(client, "hc:")
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestHybrid_LoadPopulatesRemote(t *testing.T) {
	mr, store := newTestRedis(t)
	clk := newFakeClock()
	c := New[string](Options[string]{Capacity: 8, Remote: store, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	pol := Policy{Duration: time.Minute, FailSafeMaxDuration: time.Hour, Tags: []string{"t"}}
	v, err := c.GetOrSet(ctx, "k", value("hello"), pol)
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	raw, err := mr.Get("hc:k")
	require.NoError(t, err)
	env, err := decodeEnvelope([]byte(raw))
	require.NoError(t, err)
	require.JSONEq(t, `"hello"`, string(env.Payload))
	require.Equal(t, []string{"t"}, env.Tags)
	require.False(t, env.HardExpiresAt.IsZero())

	// The remote copy outlives the hard TTL by the fail-safe window.
	ttl := mr.TTL("hc:k")
	require.InDelta(t, float64(time.Minute+time.Hour), float64(ttl), float64(5*time.Second))
}

func TestHybrid_SecondInstanceReadsRemote(t *testing.T) {
	_, store := newTestRedis(t)
	clk := newFakeClock()
	ctx := context.Background()
	pol := Policy{Duration: time.Minute}

	a := New[string](Options[string]{Capacity: 8, Remote: store, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = a.Close() })
	_, err := a.GetOrSet(ctx, "k", value("from-a"), pol)
	require.NoError(t, err)

	// A fresh instance with an empty local tier must find the value
	// remotely without ever running its factory.
	b := New[string](Options[string]{Capacity: 8, Remote: store, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = b.Close() })
	v, err := b.GetOrSet(ctx, "k", failing[string](), pol)
	require.NoError(t, err)
	require.Equal(t, "from-a", v)

	// And the remote hit is now resident locally: drop the remote tier
	// contents and read again.
	require.NoError(t, store.Delete(ctx, "k"))
	v, err = b.GetOrSet(ctx, "k", failing[string](), pol)
	require.NoError(t, err)
	require.Equal(t, "from-a", v)
}

func TestHybrid_RemoteDownDegradesToFactory(t *testing.T) {
	mr, store := newTestRedis(t)
	c := New[string](Options[string]{Capacity: 8, Remote: store, RefreshWorkers: -1})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	mr.Close() // every remote op fails from here on

	v, err := c.GetOrSet(ctx, "k", value("local"), Policy{Duration: time.Minute})
	require.NoError(t, err)
	require.Equal(t, "local", v)

	// Served from the local tier on repeat.
	v, err = c.GetOrSet(ctx, "k", nil, Policy{})
	require.NoError(t, err)
	require.Equal(t, "local", v)
}

func TestHybrid_RemoveAndInvalidateReachRemote(t *testing.T) {
	mr, store := newTestRedis(t)
	c := New[int](Options[int]{Capacity: 8, Remote: store, RefreshWorkers: -1})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	pol := Policy{Duration: time.Minute, Tags: []string{"grp"}}
	c.Set(ctx, "a", 1, pol)
	c.Set(ctx, "b", 2, pol)
	c.Set(ctx, "other", 3, Policy{Duration: time.Minute})
	require.True(t, mr.Exists("hc:a"))
	require.True(t, mr.Exists("hc:b"))

	require.True(t, c.Remove(ctx, "other"))
	require.False(t, mr.Exists("hc:other"))

	require.Equal(t, 2, c.InvalidateByTag(ctx, "grp"))
	require.False(t, mr.Exists("hc:a"))
	require.False(t, mr.Exists("hc:b"))
}

// A remote entry past its hard deadline is not authoritative, but while the
// fail-safe window is open it still saves a cold instance from a failing
// backend.
func TestHybrid_RemoteStaleFailSafe(t *testing.T) {
	_, store := newTestRedis(t)
	clk := newFakeClock()
	ctx := context.Background()
	pol := Policy{Duration: time.Minute, FailSafeMaxDuration: time.Hour}

	a := New[string](Options[string]{Capacity: 8, Remote: store, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = a.Close() })
	_, err := a.GetOrSet(ctx, "k", value("old"), pol)
	require.NoError(t, err)

	clk.add(2 * time.Minute) // hard-expired, fail-safe window still open

	var suppressed error
	b := New[string](Options[string]{
		Capacity:       8,
		Remote:         store,
		Clock:          clk,
		RefreshWorkers: -1,
		OnFailSafe:     func(key string, err error) { suppressed = err },
	})
	t.Cleanup(func() { _ = b.Close() })

	v, err := b.GetOrSet(ctx, "k", failing[string](), pol)
	require.NoError(t, err)
	require.Equal(t, "old", v)
	require.ErrorIs(t, suppressed, errBackend)

	// With the fail-safe window disabled the same read is a hard failure.
	c2 := New[string](Options[string]{Capacity: 8, Remote: store, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = c2.Close() })
	_, err = c2.GetOrSet(ctx, "k", failing[string](), Policy{Duration: time.Minute, FailSafeMaxDuration: -1})
	var fe *FactoryError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "k", fe.Key)
}

// After a successful remote hit the local entry carries the writer's
// deadlines: once those pass, the reader expires it like its own.
func TestHybrid_EnvelopeDeadlinesHonoredLocally(t *testing.T) {
	_, store := newTestRedis(t)
	clk := newFakeClock()
	ctx := context.Background()
	pol := Policy{Duration: time.Minute}

	a := New[string](Options[string]{Capacity: 8, Remote: store, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = a.Close() })
	_, err := a.GetOrSet(ctx, "k", value("v"), pol)
	require.NoError(t, err)

	b := New[string](Options[string]{Capacity: 8, Remote: store, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = b.Close() })
	v, err := b.GetOrSet(ctx, "k", failing[string](), pol)
	require.NoError(t, err, "remote hit must not need the factory")
	require.Equal(t, "v", v)

	clk.add(2 * time.Minute)
	require.NoError(t, store.Delete(ctx, "k"))

	_, err = b.GetOrSet(ctx, "k", failing[string](), pol)
	var fe *FactoryError
	require.True(t, errors.As(err, &fe), "expired import with no fail-safe window must surface the load failure, got %v", err)
	require.Equal(t, 0, b.Len())
}
