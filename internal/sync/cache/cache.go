// Package cache keeps content fetched while online for offline reads.
package cache

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/actor"
)

// Store persists cached content entries keyed by id.
type Store interface {
	Put(ctx context.Context, entry models.CachedContent) error
	Get(ctx context.Context, id string) (models.CachedContent, bool, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]models.CachedContent, error)
}

// Manager serializes cache access on the engine loop.
type Manager struct {
	store Store
	loop  *actor.Loop
	now   func() time.Time
}

// NewManager creates a cache Manager. A nil now uses time.Now.
func NewManager(store Store, loop *actor.Loop, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, loop: loop, now: now}
}

// Put caches data under id, replacing any previous entry.
func (m *Manager) Put(ctx context.Context, id string, data []byte) (models.CachedContent, error) {
	if id == "" {
		return models.CachedContent{}, apperrors.New(apperrors.ErrInvalid, "content id is required")
	}

	var entry models.CachedContent
	err := m.loop.Do(ctx, func() error {
		var err error
		entry, err = m.put(ctx, id, data)
		return err
	})
	return entry, err
}

// PutOnLoop is Put for callers already running on the loop.
func (m *Manager) PutOnLoop(ctx context.Context, id string, data []byte) (models.CachedContent, error) {
	return m.put(ctx, id, data)
}

func (m *Manager) put(ctx context.Context, id string, data []byte) (models.CachedContent, error) {
	entry := models.CachedContent{
		ID:       id,
		Data:     append([]byte(nil), data...),
		CachedAt: m.now(),
	}
	if err := m.store.Put(ctx, entry); err != nil {
		return models.CachedContent{}, apperrors.Wrap(apperrors.ErrStoreUnavailable, "persist cached content", err)
	}
	logging.Debug("Cached content", map[string]interface{}{"id": id, "bytes": len(data)})
	return entry.Clone(), nil
}

// Get returns the cached entry for id.
func (m *Manager) Get(ctx context.Context, id string) (models.CachedContent, bool, error) {
	var (
		entry models.CachedContent
		found bool
	)
	err := m.loop.Do(ctx, func() error {
		var err error
		entry, found, err = m.store.Get(ctx, id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "get cached content", err)
		}
		return nil
	})
	return entry.Clone(), found, err
}

// Remove evicts id. Missing ids are a no-op.
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.loop.Do(ctx, func() error {
		if err := m.store.Delete(ctx, id); err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "delete cached content", err)
		}
		return nil
	})
}

// List returns all cached entries.
func (m *Manager) List(ctx context.Context) ([]models.CachedContent, error) {
	var out []models.CachedContent
	err := m.loop.Do(ctx, func() error {
		entries, err := m.store.ListAll(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "list cached content", err)
		}
		out = make([]models.CachedContent, len(entries))
		for i, e := range entries {
			out[i] = e.Clone()
		}
		return nil
	})
	return out, err
}

// MemoryStore is a non-durable Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.CachedContent
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.CachedContent)}
}

func (s *MemoryStore) Put(ctx context.Context, entry models.CachedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; !ok {
		s.order = append(s.order, entry.ID)
	}
	s.entries[entry.ID] = entry.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (models.CachedContent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e.Clone(), ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]models.CachedContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CachedContent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].Clone())
	}
	return out, nil
}
