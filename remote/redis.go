package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
}

// Redis implements Store on top of a Redis server. All keys are namespaced
// with a prefix so several caches can share one database.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "hybridcache:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("remote: connect to redis: %w", err)
	}

	return &Redis{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// NewRedisFromClient wraps an existing client. The caller keeps ownership
// of the client; Close on the returned store closes it regardless, so only
// hand over clients dedicated to the cache.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "hybridcache:"
	}
	return &Redis{rdb: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Get retrieves the payload for key. redis.Nil maps to a plain miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("remote: get %q: %w", key, err)
	}
	return payload, true, nil
}

// Set stores the payload under the prefixed key.
func (r *Redis) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("remote: set %q: %w", key, err)
	}
	return nil
}

// Delete removes the prefixed key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("remote: delete %q: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity, for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Compile-time check: ensure Redis implements Store.
var _ Store = (*Redis)(nil)
