package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// testClock lets the tests move time forward deterministically.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *testClock) {
	clock := newTestClock()
	l := New()
	l.now = clock.Now
	return l, clock
}

func TestWindowBoundary(t *testing.T) {
	l, clock := newTestLimiter()
	const limit = 5
	window := 10 * time.Second

	// Five calls in quick succession are admitted.
	for i := 0; i < limit; i++ {
		if !l.CheckAndRecord("u1", limit, window) {
			t.Fatalf("call %d denied inside budget", i+1)
		}
		clock.Advance(time.Second)
	}
	// Sixth call at t=5s: all five hits are still inside the window.
	if l.CheckAndRecord("u1", limit, window) {
		t.Fatal("sixth call admitted inside full window")
	}
	// At t=11s the first hit (t=0) has aged out.
	clock.Advance(6 * time.Second)
	if !l.CheckAndRecord("u1", limit, window) {
		t.Fatal("call denied after window expired")
	}
}

func TestDenialRecordsNothing(t *testing.T) {
	l, clock := newTestLimiter()
	window := 10 * time.Second

	for i := 0; i < 3; i++ {
		l.CheckAndRecord("u1", 3, window)
	}
	// Hammering a full window must not extend the lockout.
	for i := 0; i < 50; i++ {
		if l.CheckAndRecord("u1", 3, window) {
			t.Fatal("admitted over budget")
		}
	}
	clock.Advance(window + time.Second)
	if !l.CheckAndRecord("u1", 3, window) {
		t.Fatal("lockout extended by denied calls")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	window := 10 * time.Second

	if !l.CheckAndRecord("u1", 1, window) {
		t.Fatal("first key denied")
	}
	if l.CheckAndRecord("u1", 1, window) {
		t.Fatal("first key over budget")
	}
	if !l.CheckAndRecord("u2", 1, window) {
		t.Fatal("second key affected by first")
	}
	if l.Len() != 2 {
		t.Fatalf("keys = %d, want 2", l.Len())
	}
}

func TestConcurrentAdmission(t *testing.T) {
	l, _ := newTestLimiter()
	const limit = 5
	window := 10 * time.Second

	admitted := make(chan bool, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- l.CheckAndRecord("shared", limit, window)
		}()
	}
	wg.Wait()
	close(admitted)

	n := 0
	for ok := range admitted {
		if ok {
			n++
		}
	}
	if n != limit {
		t.Fatalf("admitted = %d, want %d", n, limit)
	}
}

func TestSweepDropsIdleKeys(t *testing.T) {
	l, clock := newTestLimiter()
	window := 10 * time.Second

	l.CheckAndRecord("idle-1", 5, window)
	l.CheckAndRecord("idle-2", 5, window)
	clock.Advance(window + time.Second)
	l.CheckAndRecord("fresh", 5, window)

	if removed := l.Sweep(window); removed != 2 {
		t.Fatalf("swept %d keys, want 2", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("keys after sweep = %d, want 1", l.Len())
	}
	// The surviving key still holds its budget state.
	if !l.CheckAndRecord("fresh", 5, window) {
		t.Fatal("fresh key denied after sweep")
	}
}

func TestManyKeys(t *testing.T) {
	l, _ := newTestLimiter()
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("user-%d", i)
		if !l.CheckAndRecord(key, 5, time.Second) {
			t.Fatalf("key %s denied first call", key)
		}
	}
	if l.Len() != 100 {
		t.Fatalf("keys = %d, want 100", l.Len())
	}
}
