package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
)

// QueueStore is the durable sync queue table. It implements queue.Store
// and queue.Counter. Rows keep their insertion sequence across upserts.
type QueueStore struct {
	db *DB
}

// NewQueueStore returns the queue store backed by db.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// Put inserts or replaces the record for rec.ID.
func (s *QueueStore) Put(ctx context.Context, rec models.MutationRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
		INSERT INTO sync_queue (id, payload, created_at, sync_attempts, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			sync_attempts = excluded.sync_attempts,
			last_error = excluded.last_error`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, payload, toUnixNano(rec.CreatedAt), rec.SyncAttempts, rec.LastError)
	if err != nil {
		return fmt.Errorf("failed to put mutation %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record stored under id.
func (s *QueueStore) Get(ctx context.Context, id string) (models.MutationRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, payload, created_at, sync_attempts, last_error FROM sync_queue WHERE id = ?`, id)

	rec, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MutationRecord{}, false, nil
	}
	if err != nil {
		return models.MutationRecord{}, false, fmt.Errorf("failed to get mutation %s: %w", id, err)
	}
	return rec, true, nil
}

// Delete removes the record for id. Missing ids are not an error.
func (s *QueueStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete mutation %s: %w", id, err)
	}
	return nil
}

// ListAll returns every record in insertion order.
func (s *QueueStore) ListAll(ctx context.Context) ([]models.MutationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, created_at, sync_attempts, last_error FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var out []models.MutationRecord
	for rows.Next() {
		rec, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of queued records.
func (s *QueueStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanMutation decodes one row. A payload that does not decode to a JSON
// object comes back as a nil Payload so the queue manager reports the
// record as malformed instead of failing the whole listing.
func scanMutation(row scanner) (models.MutationRecord, error) {
	var (
		rec       models.MutationRecord
		payload   []byte
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &payload, &createdAt, &rec.SyncAttempts, &rec.LastError); err != nil {
		return models.MutationRecord{}, err
	}

	rec.CreatedAt = fromUnixNano(createdAt)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		logging.Warn("Undecodable mutation payload", map[string]interface{}{"id": rec.ID})
		rec.Payload = nil
	}
	return rec, nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
