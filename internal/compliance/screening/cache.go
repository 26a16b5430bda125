package screening

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache is the capability the engine needs from a cache store: a keyed
// get and a set-with-expiry. The cache is an optimization, never a
// correctness dependency; implementations should use short timeouts and let
// the engine fall through to fresh computation on failure.
type ResultCache interface {
	// Get returns the cached value for key, ok=false on a miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetEx stores value under key with the given TTL. Expiry is delegated
	// to the store.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
}

// redisCache backs ResultCache with Redis. TTL handling and cross-process
// sharing come for free; concurrent overwrites of the same key are idempotent.
type redisCache struct {
	rdb       redis.UniversalClient
	opTimeout time.Duration
}

// NewRedisCache wraps a Redis client as a ResultCache. opTimeout bounds each
// individual cache operation so a slow cache cannot stall a screening.
func NewRedisCache(rdb redis.UniversalClient, opTimeout time.Duration) ResultCache {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &redisCache{rdb: rdb, opTimeout: opTimeout}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *redisCache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	return c.rdb.Set(ctx, key, value, ttl).Err()
}
