package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kimhsiao/memonexus/syncengine/internal/models"
)

// CacheStore is the durable content cache table. It implements cache.Store.
type CacheStore struct {
	db *DB
}

// NewCacheStore returns the cache store backed by db.
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

// Put inserts or replaces the entry for entry.ID.
func (s *CacheStore) Put(ctx context.Context, entry models.CachedContent) error {
	data := entry.Data
	if data == nil {
		data = []byte{}
	}

	query := `
		INSERT INTO cached_content (id, data, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			cached_at = excluded.cached_at`

	if _, err := s.db.ExecContext(ctx, query, entry.ID, data, toUnixNano(entry.CachedAt)); err != nil {
		return fmt.Errorf("failed to cache content %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the entry stored under id.
func (s *CacheStore) Get(ctx context.Context, id string) (models.CachedContent, bool, error) {
	var (
		entry    models.CachedContent
		cachedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, data, cached_at FROM cached_content WHERE id = ?`, id).
		Scan(&entry.ID, &entry.Data, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CachedContent{}, false, nil
	}
	if err != nil {
		return models.CachedContent{}, false, fmt.Errorf("failed to get cached content %s: %w", id, err)
	}
	entry.CachedAt = fromUnixNano(cachedAt)
	return entry, true, nil
}

// Delete removes the entry for id. Missing ids are not an error.
func (s *CacheStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_content WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete cached content %s: %w", id, err)
	}
	return nil
}

// ListAll returns every entry in insertion order.
func (s *CacheStore) ListAll(ctx context.Context) ([]models.CachedContent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data, cached_at FROM cached_content ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached content: %w", err)
	}
	defer rows.Close()

	var out []models.CachedContent
	for rows.Next() {
		var (
			entry    models.CachedContent
			cachedAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Data, &cachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached content: %w", err)
		}
		entry.CachedAt = fromUnixNano(cachedAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}
