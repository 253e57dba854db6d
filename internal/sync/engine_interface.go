// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"

	"github.com/kimhsiao/memonexus/syncengine/internal/events"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// SyncNow requests a manual drain and waits for its outcome.
	SyncNow(ctx context.Context) (Outcome, error)

	// RequestSync submits a sync request without waiting.
	RequestSync(automatic bool)

	// Enqueue records a local mutation; it works offline.
	Enqueue(ctx context.Context, id string, payload map[string]interface{}) (models.MutationRecord, error)

	// Remove drops a pending mutation.
	Remove(ctx context.Context, id string) error

	// Pending returns pending mutations in drain order.
	Pending(ctx context.Context) ([]models.MutationRecord, error)

	// Status returns the current engine status.
	Status(ctx context.Context) (Status, error)

	// Subscribe registers an event handler.
	Subscribe(h events.Handler) (unsubscribe func())
}

var _ SyncEngineInterface = (*Engine)(nil)
