package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wesheets/trustfabric/pkg/contracts"
)

// MemoryStore is a thread-safe in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	kinds map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kinds: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.kinds[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, contracts.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, kind, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.kinds[kind]
	if !ok {
		table = make(map[string][]byte)
		s.kinds[kind] = table
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	table[id] = stored
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.kinds[kind][id]; !ok {
		return fmt.Errorf("%s %s: %w", kind, id, contracts.ErrNotFound)
	}
	delete(s.kinds[kind], id)
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, kind string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.kinds[kind]
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		data := make([]byte, len(table[id]))
		copy(data, table[id])
		out = append(out, data)
	}
	return out, nil
}
