package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAllowOnePerWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(clock, 50*time.Millisecond)

	if !l.Allow("a") {
		t.Fatal("first message was dropped")
	}
	if l.Allow("a") {
		t.Fatal("second message inside the window passed")
	}
	clock.advance(49 * time.Millisecond)
	if l.Allow("a") {
		t.Fatal("message just inside the window passed")
	}
	clock.advance(time.Millisecond)
	if !l.Allow("a") {
		t.Fatal("message after the window was dropped")
	}
}

func TestSendersLimitedIndependently(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(clock, 50*time.Millisecond)

	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("first message per sender was dropped")
	}
	if l.Allow("a") || l.Allow("b") {
		t.Fatal("window leaked across senders")
	}
}

func TestZeroWindowDisablesLimiting(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(clock, 0)

	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("message %d dropped with limiting disabled", i)
		}
	}
}

func TestForgetResetsSender(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(clock, 50*time.Millisecond)

	if !l.Allow("a") {
		t.Fatal("first message was dropped")
	}
	l.Forget("a")
	if !l.Allow("a") {
		t.Fatal("message after Forget was dropped")
	}
}
