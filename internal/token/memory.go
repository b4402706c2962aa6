package token

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns a copy of the entry for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

// Upsert replaces the entry for key.
func (s *MemoryStore) Upsert(ctx context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = *copyEntry(entry)
	return nil
}

func copyEntry(e Entry) *Entry {
	out := e
	if e.FailureExpiryEpochMs != nil {
		v := *e.FailureExpiryEpochMs
		out.FailureExpiryEpochMs = &v
	}
	return &out
}
