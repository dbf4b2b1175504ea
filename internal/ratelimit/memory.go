package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	windowStart time.Time
	count       int
	expiresAt   time.Time
}

// MemoryStore keeps counters in process. Counters are created on first use,
// restart when a newer window begins, and are dropped by CleanExpired.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[string]*counter{}}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.windowStart.Before(windowStart) {
		c = &counter{windowStart: windowStart, expiresAt: windowStart.Add(window)}
		s.counters[key] = c
	}
	c.count++

	return c.count, nil
}

func (s *MemoryStore) CleanExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, c := range s.counters {
		if !c.expiresAt.After(before) {
			delete(s.counters, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
