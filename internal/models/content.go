// Package models provides data model definitions for the sync engine.
package models

import "time"

// CachedContent is content fetched while online and retained for offline reads.
type CachedContent struct {
	ID       string    `db:"id" json:"id"`
	Data     []byte    `db:"data" json:"data"`
	CachedAt time.Time `db:"cached_at" json:"cached_at"`
}

// TableName returns the table name for CachedContent.
func (CachedContent) TableName() string {
	return "cached_content"
}

// Clone returns a copy that does not share the data buffer.
func (c CachedContent) Clone() CachedContent {
	if c.Data != nil {
		c.Data = append([]byte(nil), c.Data...)
	}
	return c
}
