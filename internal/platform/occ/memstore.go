package occ

import (
	"context"
	"sync"
)

// MemStore is a thread-safe in-memory Store. It backs tests and the
// in-memory repository implementations.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]interface{}
	versions map[string]Version
}

func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[string]interface{}),
		versions: make(map[string]Version),
	}
}

// Seed inserts a record at version 1 without a version check.
func (s *MemStore) Seed(id string, entity interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[id] = entity
	s.versions[id] = 1
}

func (s *MemStore) Get(_ context.Context, id string) (interface{}, Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return e, s.versions[id], nil
}

func (s *MemStore) Put(_ context.Context, id string, expected Version, entity interface{}) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.versions[id]
	if !ok {
		return 0, ErrNotFound
	}
	if cv != expected {
		return 0, ErrVersionMismatch
	}
	s.entities[id] = entity
	s.versions[id] = cv + 1
	return cv + 1, nil
}
