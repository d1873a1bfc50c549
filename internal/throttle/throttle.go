// Package throttle provides the in-process counter that slows down repeated
// login attempts per email. It is an abuse mitigation, not a correctness
// guarantee: state lives in the process and resets on restart.
package throttle

import (
	"sync"
	"time"
)

type entry struct {
	count   int
	resetAt time.Time
}

// Throttle counts hits per key in fixed windows. Once a key reaches the
// maximum within its window, further hits are rejected until the window
// expires.
type Throttle struct {
	mu     sync.Mutex
	max    int
	period time.Duration
	m      map[string]entry
	nowF   func() time.Time
}

// New returns a Throttle allowing max hits per period for each key.
// Non-positive arguments fall back to 10 hits per 5 minutes.
func New(max int, period time.Duration) *Throttle {
	if max <= 0 {
		max = 10
	}
	if period <= 0 {
		period = 5 * time.Minute
	}
	return &Throttle{
		max:    max,
		period: period,
		m:      make(map[string]entry),
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// Hit records an attempt for key and reports whether it is allowed. The
// attempt that reaches the limit is the first to be rejected.
func (t *Throttle) Hit(key string) bool {
	now := t.nowF()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.m[key]
	if !ok || !e.resetAt.After(now) {
		e = entry{resetAt: now.Add(t.period)}
	}
	if e.count >= t.max {
		t.m[key] = e
		return false
	}
	e.count++
	t.m[key] = e

	// Expired keys accumulate between hits; sweep while we hold the lock.
	if len(t.m) > 1024 {
		for k, e := range t.m {
			if !e.resetAt.After(now) {
				delete(t.m, k)
			}
		}
	}
	return true
}
