// Package lockout implements the recently-repaired coordinate TTL set
// (C1). Workers need several seconds for a successful paint to be
// reflected in the next preview; without this lockout the planner would
// redispatch the same pixel and waste credits.
//
// Modeled as a map[string]time guarded by one Mutex, entries extended
// by overwrite, lazily expired on read.
package lockout

import (
	"sync"
	"time"

	"github.com/andrewboldi/canvasguard/internal/canvas"
)

// Set is a time-bounded set of coordinates temporarily ineligible for
// redispatch. All operations are safe under concurrent invocation.
type Set struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	nowFunc func() time.Time
}

// New returns an empty lockout set using the real wall clock.
func New() *Set {
	return &Set{
		expiry:  make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// newWithClock is used by tests to control time deterministically.
func newWithClock(now func() time.Time) *Set {
	s := New()
	s.nowFunc = now
	return s
}

// Mark extends (or creates) the lockout for each coordinate to
// now + ttl, overwriting any existing entry.
func (s *Set) Mark(coords []canvas.Coord, ttl time.Duration) {
	until := s.nowFunc().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range coords {
		s.expiry[canvas.Key(c.X, c.Y)] = until
	}
}

// Age removes all entries whose expiry has passed. Idempotent; safe to
// call opportunistically on every favorite preview arrival.
func (s *Set) Age() {
	now := s.nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.expiry {
		if !now.Before(exp) {
			delete(s.expiry, k)
		}
	}
}

// IsLocked reports whether (x, y) is currently locked, lazily expiring
// the entry first if it has passed its TTL.
func (s *Set) IsLocked(x, y int) bool {
	key := canvas.Key(x, y)
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expiry[key]
	if !ok {
		return false
	}
	if !now.Before(exp) {
		delete(s.expiry, key)
		return false
	}
	return true
}

// Len returns the number of tracked entries, expired or not. Exposed for
// tests and diagnostics only.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expiry)
}
