package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a shared Redis instance. Use it when running
// more than one gateway instance so client lookups and secret-check results
// stay consistent across the fleet.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the Redis at url (a redis:// URL) and verifies the
// connection with a ping.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Redis{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Redis) Close() error { return c.rdb.Close() }

// GetOrFill returns the cached value for key, or runs fill and stores the
// result for ttl. Two instances may race on a miss; both fill and the last
// write wins, which is fine for read-through caching.
func (c *Redis) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	v, err := fill(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, v, ttl).Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// Delete removes key.
func (c *Redis) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// DeletePattern removes every key starting with prefix using SCAN so large
// keyspaces are not blocked.
func (c *Redis) DeletePattern(ctx context.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
