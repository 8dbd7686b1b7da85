package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowCounter holds one key's counter for its current window.
type windowCounter struct {
	windowStart time.Time
	window      time.Duration
	count       int64
}

// MemoryStore implements Store with an in-process map. Thread-safe; the
// mutex makes each Increment atomic. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// NewMemoryStore creates a new in-memory rate limit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*windowCounter),
	}
}

// Increment upserts and increments the counter for (key, windowStart)
// in one critical section.
func (s *MemoryStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.counters[key]
	if !exists || !c.windowStart.Equal(windowStart) {
		c = &windowCounter{windowStart: windowStart, window: window}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Cleanup removes counters whose window started more than two window
// durations before now; those can no longer affect any decision.
// Returns the number of counters removed.
func (s *MemoryStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, c := range s.counters {
		if now.Sub(c.windowStart) > 2*c.window {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live counters. Used by tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
