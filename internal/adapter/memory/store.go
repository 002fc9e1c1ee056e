// Package memory is a process-local location repository used when no
// DATABASE_URL is configured, and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/map-marker-service/internal/domain"
)

// Store keeps snapshots, not live records, so callers never share state
// through the repository.
type Store struct {
	mu      sync.RWMutex
	records map[string]domain.Snapshot
}

func NewStore() *Store {
	return &Store{records: make(map[string]domain.Snapshot)}
}

func (s *Store) Load(_ context.Context, id string) (*domain.LocationRecord, error) {
	s.mu.RLock()
	snap, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: load %q: %w", id, domain.ErrNotFound)
	}
	return domain.Restore(snap), nil
}

func (s *Store) Save(_ context.Context, id string, rec *domain.LocationRecord) error {
	snap := rec.Snapshot()
	s.mu.Lock()
	s.records[id] = snap
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}
