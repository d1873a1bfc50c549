// Package cache provides the TTL cache used by the gateway for client
// lookups and secret-check results. Two implementations exist: Memory for a
// single instance and Redis for horizontally-scaled deployments. Values are
// stored as bytes; GetOrFillJSON layers JSON encoding on top.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache is a read-through TTL cache. Keys use a "<kind>:<id>" convention so
// DeletePattern can invalidate a whole kind when underlying data changes.
type Cache interface {
	// GetOrFill returns the cached value for key, calling fill and storing
	// its result for ttl on a miss.
	GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(ctx context.Context) ([]byte, error)) ([]byte, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key starting with prefix.
	DeletePattern(ctx context.Context, prefix string) error
}

// GetOrFillJSON is GetOrFill with JSON encoding of the cached value.
func GetOrFillJSON[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fill func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	b, err := c.GetOrFill(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, err
	}
	return v, nil
}
