// Package ratelimit bounds per-sender signaling throughput with a fixed
// drop window: at most one message per sender per window, excess is dropped,
// never queued or delayed.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can drive the window deterministically.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type Limiter struct {
	mu     sync.Mutex
	clock  Clock
	window time.Duration
	last   map[string]time.Time
}

// NewLimiter builds a limiter with the given window. A window <= 0 disables
// limiting entirely.
func NewLimiter(clock Clock, window time.Duration) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{
		clock:  clock,
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether a message from key may pass now, consuming the
// window on success.
func (l *Limiter) Allow(key string) bool {
	if l.window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if prev, ok := l.last[key]; ok && now.Sub(prev) < l.window {
		return false
	}
	l.last[key] = now
	return true
}

// Forget drops the sender's bookkeeping. Called on disconnect so the table
// never outgrows the live connection set.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, key)
}
