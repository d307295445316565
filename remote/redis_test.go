package remote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, prefix string) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisFromClient(client, prefix)
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestRedis_RoundTrip(t *testing.T) {
	_, r := newStore(t, "")
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("payload"), 0))

	got, found, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), got)
}

func TestRedis_MissIsNotAnError(t *testing.T) {
	_, r := newStore(t, "")
	ctx := context.Background()

	got, found, err := r.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestRedis_Delete(t *testing.T) {
	_, r := newStore(t, "")
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("x"), 0))
	require.NoError(t, r.Delete(ctx, "k"))

	_, found, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent key is a no-op.
	require.NoError(t, r.Delete(ctx, "k"))
}

func TestRedis_TTLExpiry(t *testing.T) {
	mr, r := newStore(t, "")
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("x"), 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("hybridcache:k"))

	mr.FastForward(31 * time.Second)
	_, found, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_KeyPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client1 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewRedisFromClient(client1, "a:")
	b := NewRedisFromClient(client2, "b:")
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", []byte("from-a"), 0))

	_, found, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "prefixes must namespace the key space")

	require.True(t, mr.Exists("a:k"))
	require.False(t, mr.Exists("b:k"))
}

func TestRedis_ServerDownSurfacesError(t *testing.T) {
	mr, r := newStore(t, "")
	ctx := context.Background()
	mr.Close()

	_, _, err := r.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, r.Set(ctx, "k", []byte("x"), 0))
	assert.Error(t, r.Delete(ctx, "k"))
	assert.Error(t, r.Ping(ctx))
}

func TestNewRedis_ConnectAndPing(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedis(RedisConfig{Addr: mr.Addr(), KeyPrefix: "p:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.Ping(context.Background()))
	require.NoError(t, r.Set(context.Background(), "k", []byte("x"), 0))
	require.True(t, mr.Exists("p:k"))
}

func TestNewRedis_UnreachableAddr(t *testing.T) {
	_, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
