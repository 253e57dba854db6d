// Package queue provides the sync queue manager for offline mutations.
//
// Every read and write of the underlying store runs on the engine's actor
// loop, so an Enqueue can never interleave with a DequeueAll snapshot.
package queue

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/actor"
)

// Store is the durable queue contract. A Put that returns nil must survive
// an immediate process kill. ListAll returns records in store insertion
// order; overwriting an id keeps its original position. Delete of a missing
// id is not an error.
type Store interface {
	Put(ctx context.Context, rec models.MutationRecord) error
	Get(ctx context.Context, id string) (models.MutationRecord, bool, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]models.MutationRecord, error)
}

// Counter is implemented by stores that can count without decoding records.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Snapshot is an immutable view of the pending records at one instant.
type Snapshot struct {
	Records []models.MutationRecord
	// Corrupt holds ids of records that failed validation and were left out.
	Corrupt []string
}

// Len returns the number of records in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Records)
}

// Manager owns enqueue/dequeue of pending mutation records.
type Manager struct {
	store Store
	loop  *actor.Loop
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over store, serialized on loop.
func NewManager(store Store, loop *actor.Loop, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		loop:  loop,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue creates or overwrites the record for id with SyncAttempts reset to 0.
// It works regardless of connectivity.
func (m *Manager) Enqueue(ctx context.Context, id string, payload map[string]interface{}) (models.MutationRecord, error) {
	if id == "" {
		return models.MutationRecord{}, apperrors.New(apperrors.ErrInvalid, "mutation id is required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	var rec models.MutationRecord
	err := m.loop.Do(ctx, func() error {
		rec = models.MutationRecord{
			ID:        id,
			Payload:   models.ClonePayload(payload),
			CreatedAt: m.now(),
		}
		if err := m.store.Put(ctx, rec); err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "persist mutation", err)
		}
		return nil
	})
	if err != nil {
		return models.MutationRecord{}, err
	}

	logging.Debug("Enqueued mutation", map[string]interface{}{"id": id})
	return rec.Clone(), nil
}

// DequeueAll returns every pending record ordered by CreatedAt, ties broken
// by store insertion order. Records enqueued afterwards are not included.
// Malformed records are left out and listed in Snapshot.Corrupt.
func (m *Manager) DequeueAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.loop.Do(ctx, func() error {
		recs, err := m.store.ListAll(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "list mutations", err)
		}

		snap.Records = make([]models.MutationRecord, 0, len(recs))
		for _, rec := range recs {
			if verr := rec.Validate(); verr != nil {
				logging.Error("Dropping malformed mutation from snapshot", verr,
					map[string]interface{}{"id": rec.ID, "code": string(apperrors.ErrContractViolation)})
				snap.Corrupt = append(snap.Corrupt, rec.ID)
				continue
			}
			snap.Records = append(snap.Records, rec.Clone())
		}

		sort.SliceStable(snap.Records, func(i, j int) bool {
			return snap.Records[i].CreatedAt.Before(snap.Records[j].CreatedAt)
		})
		return nil
	})
	return snap, err
}

// List is DequeueAll without the corrupt id list, for display callers.
func (m *Manager) List(ctx context.Context) ([]models.MutationRecord, error) {
	snap, err := m.DequeueAll(ctx)
	return snap.Records, err
}

// Get returns the record for id, if pending.
func (m *Manager) Get(ctx context.Context, id string) (models.MutationRecord, bool, error) {
	var (
		rec   models.MutationRecord
		found bool
	)
	err := m.loop.Do(ctx, func() error {
		var err error
		rec, found, err = m.store.Get(ctx, id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "get mutation", err)
		}
		return nil
	})
	return rec.Clone(), found, err
}

// Remove deletes a record after confirmed remote application. Removing a
// missing id is a no-op.
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.loop.Do(ctx, func() error {
		if err := m.store.Delete(ctx, id); err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "delete mutation", err)
		}
		return nil
	})
}

// Complete removes rec after the remote accepted it, unless the id was
// re-enqueued since rec was snapshotted. Returns whether a delete happened.
func (m *Manager) Complete(ctx context.Context, rec models.MutationRecord) (bool, error) {
	var removed bool
	err := m.loop.Do(ctx, func() error {
		cur, ok, err := m.store.Get(ctx, rec.ID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "get mutation", err)
		}
		if !ok {
			return nil
		}
		if !cur.CreatedAt.Equal(rec.CreatedAt) {
			logging.Debug("Mutation re-enqueued during drain, keeping newer record",
				map[string]interface{}{"id": rec.ID})
			return nil
		}
		if err := m.store.Delete(ctx, rec.ID); err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "delete mutation", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// RecordFailure increments SyncAttempts for the snapshotted rec and stores
// the classified reason. The record stays queued. Returns false if rec is no
// longer pending or was replaced by a newer enqueue since the snapshot.
func (m *Manager) RecordFailure(ctx context.Context, rec models.MutationRecord, reason string) (bool, error) {
	var found bool
	err := m.loop.Do(ctx, func() error {
		cur, ok, err := m.store.Get(ctx, rec.ID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "get mutation", err)
		}
		if !ok {
			return nil
		}
		if !cur.CreatedAt.Equal(rec.CreatedAt) {
			logging.Debug("Mutation re-enqueued during drain, keeping newer record",
				map[string]interface{}{"id": rec.ID})
			return nil
		}
		found = true
		cur.SyncAttempts++
		cur.LastError = reason
		if err := m.store.Put(ctx, cur); err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "persist failed mutation", err)
		}
		return nil
	})
	return found, err
}

// Size returns the current pending count.
func (m *Manager) Size(ctx context.Context) (int, error) {
	var n int
	err := m.loop.Do(ctx, func() error {
		if c, ok := m.store.(Counter); ok {
			var err error
			n, err = c.Count(ctx)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrStoreUnavailable, "count mutations", err)
			}
			return nil
		}
		recs, err := m.store.ListAll(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "list mutations", err)
		}
		n = len(recs)
		return nil
	})
	return n, err
}
