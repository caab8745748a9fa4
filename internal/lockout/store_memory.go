package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-memory sliding window of failure
// timestamps per identifier.
type MemoryStore struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{failures: make(map[string][]time.Time)}
}

func (s *MemoryStore) RecordFailure(_ context.Context, identifier string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pruneLocked(identifier, window)
	kept = append(kept, time.Now())
	s.failures[identifier] = kept
	return len(kept), nil
}

func (s *MemoryStore) Count(_ context.Context, identifier string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pruneLocked(identifier, window)
	s.failures[identifier] = kept
	return len(kept), nil
}

func (s *MemoryStore) Clear(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, identifier)
	return nil
}

func (s *MemoryStore) pruneLocked(identifier string, window time.Duration) []time.Time {
	cutoff := time.Now().Add(-window)
	var kept []time.Time
	for _, ts := range s.failures[identifier] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
