// Package config loads engine configuration from YAML and builds a running
// cache from it.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dkrasnov/hybridcache/cache"
	"github.com/dkrasnov/hybridcache/remote"
)

// Duration accepts "10s"-style strings in YAML and converts to
// time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\": %w", err)
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(dd)
	return nil
}

// CacheConfig holds the local tier and default policy settings.
type CacheConfig struct {
	Capacity            int      `yaml:"capacity"`
	Shards              int      `yaml:"shards"`
	Duration            Duration `yaml:"duration"`
	SlidingExpiration   bool     `yaml:"sliding_expiration"`
	FailSafeMaxDuration Duration `yaml:"fail_safe_max_duration"`
	RefreshAheadRatio   float64  `yaml:"refresh_ahead_ratio"`
}

// RedisConfig holds the remote tier connection settings.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RefreshConfig holds the refresh-ahead scheduler settings.
type RefreshConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the central configuration struct.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Redis   RedisConfig   `yaml:"redis"`
	Refresh RefreshConfig `yaml:"refresh"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns a Config with sensible defaults: a 10k-entry local tier,
// 5-minute TTL with refresh-ahead at 80% and a 1-hour fail-safe window,
// no remote tier.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Capacity:            10_000,
			Duration:            Duration(5 * time.Minute),
			FailSafeMaxDuration: Duration(time.Hour),
			RefreshAheadRatio:   0.8,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "hybridcache:",
		},
		Refresh: RefreshConfig{
			Workers:   2,
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine would refuse or silently
// misinterpret.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config: cache.capacity must be > 0, got %d", c.Cache.Capacity)
	}
	if r := c.Cache.RefreshAheadRatio; r < 0 || r >= 1 {
		return fmt.Errorf("config: cache.refresh_ahead_ratio must be in [0, 1), got %g", r)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis.enabled")
	}
	return nil
}

// Policy returns the default cache policy described by the configuration.
func (c *Config) Policy() cache.Policy {
	return cache.Policy{
		Duration:            time.Duration(c.Cache.Duration),
		Sliding:             c.Cache.SlidingExpiration,
		FailSafeMaxDuration: time.Duration(c.Cache.FailSafeMaxDuration),
		RefreshAheadRatio:   c.Cache.RefreshAheadRatio,
	}
}

// Logger builds a zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("config: logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return logger, nil
}

// Build constructs a cache engine (and its Redis store, when enabled) from
// the configuration. The returned store is nil when Redis is disabled;
// otherwise the caller owns it and closes it after the cache.
func Build[V any](cfg *Config, metrics cache.Metrics) (cache.Cache[V], remote.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}

	var store remote.Store
	if cfg.Redis.Enabled {
		rs, err := remote.NewRedis(remote.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		store = rs
	}

	c := cache.New[V](cache.Options[V]{
		Capacity:         cfg.Cache.Capacity,
		Shards:           cfg.Cache.Shards,
		DefaultPolicy:    cfg.Policy(),
		Remote:           store,
		RefreshWorkers:   cfg.Refresh.Workers,
		RefreshQueueSize: cfg.Refresh.QueueSize,
		Metrics:          metrics,
		Logger:           logger,
	})
	return c, store, nil
}
