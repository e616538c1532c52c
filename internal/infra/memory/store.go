package memory

import (
	"context"
	"slices"
	"sync"

	"selfquiz/internal/localstore"
)

// Store is an in-memory implementation of localstore.Store.
type Store struct {
	mu      sync.RWMutex
	data    map[string][]byte
	failErr error
}

func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return slices.Clone(v), ok, nil
}

func (s *Store) Commit(_ context.Context, batch localstore.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	for _, key := range batch.Deletes {
		delete(s.data, key)
	}
	for key, v := range batch.Sets {
		s.data[key] = slices.Clone(v)
	}
	return nil
}

// FailCommits makes every later Commit fail with err; nil restores normal behavior.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}
