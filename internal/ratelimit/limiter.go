// Package ratelimit provides the in-memory sliding-window admission
// limiter guarding sensitive endpoints (login, booking mutations).
// State is per-process; a restart clears all counters.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter keeps, per key, the timestamps of accepted hits inside the
// trailing window.  One instance is created in main and shared by the
// middleware; there is no package-level store.
type Limiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func New() *Limiter {
	return &Limiter{hits: make(map[string][]time.Time), now: time.Now}
}

// CheckAndRecord prunes hits older than now-window for key, then admits
// and records the call only when the remaining count is below limit.
// A denied call records nothing: denial is a pure decision with no side
// effect, so a client hammering a full window does not extend its own
// lockout.
func (l *Limiter) CheckAndRecord(key string, limit int, window time.Duration) bool {
	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		// A key whose window pruned to empty holds no state worth
		// keeping.
		if len(kept) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = kept
		}
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// Sweep drops every key whose recorded hits all fall outside the
// trailing window.  CheckAndRecord only prunes keys it is asked about,
// so a long-running process needs a periodic sweep to stop the map
// growing one entry per principal and route ever seen.  Returns the
// number of keys removed.
func (l *Limiter) Sweep(window time.Duration) int {
	cutoff := l.now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, hits := range l.hits {
		stale := true
		for _, t := range hits {
			if !t.Before(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.hits, key)
			removed++
		}
	}
	return removed
}

// Len reports how many keys currently hold recorded hits.  Exposed for
// tests and debug endpoints.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
