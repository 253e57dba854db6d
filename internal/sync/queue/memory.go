package queue

import (
	"context"
	"sync"

	"github.com/kimhsiao/memonexus/syncengine/internal/models"
)

// MemoryStore is an in-process Store. It is not durable and is meant for
// tests and for running the engine without a data directory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]models.MutationRecord
	order []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]models.MutationRecord),
	}
}

// Put stores rec. Overwriting keeps the id's original insertion position.
func (s *MemoryStore) Put(ctx context.Context, rec models.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.items[rec.ID] = rec.Clone()
	return nil
}

// Get returns the record stored under id.
func (s *MemoryStore) Get(ctx context.Context, id string) (models.MutationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return models.MutationRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

// Delete removes id. Missing ids are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return nil
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListAll returns every record in insertion order.
func (s *MemoryStore) ListAll(ctx context.Context) ([]models.MutationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MutationRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}
