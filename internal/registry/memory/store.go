// Package memory provides an in-memory registry.Store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"devstack/internal/registry"
)

// Store keeps records in a map. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	apps map[string]registry.AppRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{apps: make(map[string]registry.AppRecord)}
}

func (s *Store) Upsert(_ context.Context, rec registry.AppRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Services = slices.Clone(rec.Services)
	s.apps[rec.Name] = rec
	return nil
}

func (s *Store) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[name]; !ok {
		return fmt.Errorf("app %q: %w", name, registry.ErrNotFound)
	}
	delete(s.apps, name)
	return nil
}

func (s *Store) Find(_ context.Context, name string) (registry.AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.apps[name]
	if !ok {
		return registry.AppRecord{}, fmt.Errorf("app %q: %w", name, registry.ErrNotFound)
	}
	rec.Services = slices.Clone(rec.Services)
	return rec, nil
}

func (s *Store) List(_ context.Context) ([]registry.AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]registry.AppRecord, 0, len(s.apps))
	for _, rec := range s.apps {
		rec.Services = slices.Clone(rec.Services)
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}

func (s *Store) Close() error { return nil }
