// Package ratelimit enforces per-client request quotas. Each limiter key
// owns its own token bucket with its own quota, so concurrent requests for
// different clients never share mutable limiter state.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Unlimited disables limiting for a client when used as its quota.
const Unlimited = -1

type bucket struct {
	lim      *rate.Limiter
	perSec   int
	lastSeen time.Time
}

// Limiter hands out one token bucket per key. The quota is passed on every
// call; if a client's configured quota changes, its bucket is rebuilt on the
// next request.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	nowF    func() time.Time

	lastSweep time.Time
}

// New returns a Limiter that forgets buckets idle for more than ten minutes.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		idleTTL: 10 * time.Minute,
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// Allow reports whether key may make a request under a quota of perSec
// requests per second. A negative perSec means no limit; a quota of zero
// blocks everything.
func (l *Limiter) Allow(key string, perSec int) bool {
	if perSec < 0 {
		return true
	}

	now := l.nowF()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok || b.perSec != perSec {
		b = &bucket{
			lim:    rate.NewLimiter(rate.Limit(perSec), perSec),
			perSec: perSec,
		}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastSweep) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}
