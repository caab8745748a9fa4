// Package store provides profile record backends: memory for tests and dev,
// Postgres as the source of truth, and a Redis read-through cache wrapper.
package store

import (
	"context"
	"fmt"
	"sync"

	"ravegate/internal/profile"
	"ravegate/pkg/domain"
	"ravegate/pkg/platform/sentinel"
)

// Memory is an in-memory profile store.
type Memory struct {
	mu      sync.RWMutex
	records map[domain.UserID]profile.Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[domain.UserID]profile.Record)}
}

func (s *Memory) Get(_ context.Context, id domain.UserID) (*profile.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, sentinel.ErrNotFound)
	}
	out := rec
	return &out, nil
}

// Put stores a record. The registration flow owns writes; this exists for
// seeding and tests.
func (s *Memory) Put(_ context.Context, rec profile.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec
	return nil
}
