package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache. Expired entries are dropped on read and
// swept opportunistically on write.
type Memory struct {
	mu   sync.RWMutex
	m    map[string]memEntry
	nowF func() time.Time

	lastSweep time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		m:    make(map[string]memEntry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// GetOrFill returns the cached value for key, or runs fill and stores the
// result for ttl. Fill errors are not cached.
func (c *Memory) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	now := c.nowF()

	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if ok && e.expiresAt.After(now) {
		return e.value, nil
	}

	v, err := fill(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.m[key] = memEntry{value: v, expiresAt: now.Add(ttl)}
	if now.Sub(c.lastSweep) > time.Minute {
		for k, e := range c.m {
			if !e.expiresAt.After(now) {
				delete(c.m, k)
			}
		}
		c.lastSweep = now
	}
	c.mu.Unlock()
	return v, nil
}

// Delete removes key.
func (c *Memory) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	return nil
}

// DeletePattern removes every key starting with prefix.
func (c *Memory) DeletePattern(ctx context.Context, prefix string) error {
	c.mu.Lock()
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
		}
	}
	c.mu.Unlock()
	return nil
}
