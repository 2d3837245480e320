package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// redisPayload is the JSON envelope stored in Redis. The evict boundary is
// delegated to Redis' native key TTL; only the fresh boundary is computed in
// application code from CreatedAt.
type redisPayload struct {
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisConfig holds Redis connection configuration for the shared L2 cache.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string

	// KeyPrefix namespaces all keys, e.g. "timmcp:cache:".
	KeyPrefix string

	// FreshTTL is the lifetime during which entries are served by default.
	FreshTTL time.Duration

	// EvictMultiplier defines the evict TTL as FreshTTL * EvictMultiplier.
	// Must be at least 1.
	EvictMultiplier int

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisCache implements Store against a shared Redis instance. It serves as
// the L2 tier: slower than the in-process cache but shared across server
// instances, so a fleet avoids redundant upstream calls.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	freshTTL  time.Duration
	evictTTL  time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewRedisCache creates a Redis-backed cache and verifies connectivity.
// Returns an error if the configuration is invalid or Redis is unreachable.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.URL == "" {
		return nil, errors.NewInvalidArgumentError("redis URL is required", nil)
	}
	if cfg.FreshTTL <= 0 {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("freshTTL must be positive, got %s", cfg.FreshTTL), nil)
	}
	if cfg.EvictMultiplier < 1 {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("evict multiplier must be >= 1, got %d", cfg.EvictMultiplier), nil)
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("invalid redis URL", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		freshTTL:  cfg.FreshTTL,
		evictTTL:  cfg.FreshTTL * time.Duration(cfg.EvictMultiplier),
		now:       time.Now,
	}, nil
}

// NewRedisCacheWithClient creates a RedisCache with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisCacheWithClient(client redis.UniversalClient, keyPrefix string, freshTTL, evictTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		freshTTL:  freshTTL,
		evictTTL:  evictTTL,
		now:       time.Now,
	}
}

func (c *RedisCache) redisKey(key string) string {
	return c.keyPrefix + key
}

// Get retrieves a value. Redis evicts entries past the evict TTL on its own;
// the fresh boundary is checked here against the stored creation time.
func (c *RedisCache) Get(ctx context.Context, key string, allowStale bool) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var payload redisPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// A corrupt payload is treated as a miss; the next Set repairs it.
		_ = c.client.Del(ctx, c.redisKey(key)).Err()
		return nil, false, nil
	}

	if c.now().Sub(payload.CreatedAt) >= c.freshTTL && !allowStale {
		return nil, false, nil
	}

	return payload.Value, true, nil
}

// Set stores the value with the evict TTL as the Redis key expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	payload, err := json.Marshal(redisPayload{
		Value:     value,
		CreatedAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	if err := c.client.Set(ctx, c.redisKey(key), payload, c.evictTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate removes the key. Removing an absent key succeeds.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes all entries under the configured key prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Stats reports the key count under the prefix and the fresh/stale split.
// Scanning every entry is acceptable at this cache's scale; stats are only
// gathered for diagnostics.
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		FreshTTL: c.freshTTL,
		EvictTTL: c.evictTTL,
	}

	now := c.now()
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var payload redisPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}
		stats.Size++
		if now.Sub(payload.CreatedAt) < c.freshTTL {
			stats.FreshCount++
		} else {
			stats.StaleCount++
		}
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("redis scan: %w", err)
	}

	return stats, nil
}

// Ping verifies the Redis connection is alive.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
