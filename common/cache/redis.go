package cache

import (
	"context"
	"time"

	"github.com/openlearn/coursestore/common/logger"
	"github.com/openlearn/coursestore/common/redis"
)

// RedisCache backs the Cache interface with Redis so multiple
// coursestore instances share one inheritance cache.
type RedisCache struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// NewRedisCache creates a Redis-backed cache with a key prefix
func NewRedisCache(client *redis.Client, prefix string, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		log:    log,
	}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + ":" + key
}

// Get retrieves a value from Redis. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.client.GetBytes(ctx, c.key(key))
	if err != nil {
		return nil, false, err
	}
	return val, found, nil
}

// Set stores a value with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.SetBytes(ctx, c.key(key), value, ttl)
}

// Delete removes a value
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Delete(ctx, c.key(key))
}

// Close is a no-op; the shared Redis client is closed by bootstrap
func (c *RedisCache) Close() error {
	c.log.Info("redis cache closed", "prefix", c.prefix)
	return nil
}
