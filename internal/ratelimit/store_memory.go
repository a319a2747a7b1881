package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. It is only correct for a
// single instance and exists for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, now time.Time, window time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.WindowStart.Add(window)) {
		c = Counter{WindowStart: now}
	}
	c.Count++
	s.counters[key] = c
	return c, nil
}
