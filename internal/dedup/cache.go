package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements FingerprintCache on Redis. It front-runs the store
// lookups for hot fingerprints (the same posting showing up on consecutive
// result pages within a crawl window).
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache builds a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, prefix: "jobradar:fp:", ttl: ttl}
}

// Lookup resolves a fingerprint key to a posting ID.
func (c *RedisCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return id, true, nil
}

// Store records a fingerprint key for a stored posting.
func (c *RedisCache) Store(ctx context.Context, key, postingID string) error {
	if err := c.client.Set(ctx, c.prefix+key, postingID, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

var _ FingerprintCache = (*RedisCache)(nil)
