// Package models provides data model definitions for the sync engine.
package models

import (
	"fmt"
	"time"
)

// MutationRecord represents a local write not yet confirmed by the remote system.
type MutationRecord struct {
	ID           string                 `db:"id" json:"id"`
	Payload      map[string]interface{} `db:"payload" json:"payload"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
	SyncAttempts int                    `db:"sync_attempts" json:"sync_attempts"`
	LastError    string                 `db:"last_error" json:"last_error,omitempty"` // classified reason only
}

// TableName returns the table name for MutationRecord.
func (MutationRecord) TableName() string {
	return "sync_queue"
}

// Clone returns a deep copy so snapshots cannot be mutated through shared maps.
func (r MutationRecord) Clone() MutationRecord {
	r.Payload = ClonePayload(r.Payload)
	return r
}

// Validate reports why a record read back from a store is malformed.
func (r MutationRecord) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("record has empty id")
	case r.Payload == nil:
		return fmt.Errorf("record %s has no payload", r.ID)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("record %s has no creation time", r.ID)
	case r.SyncAttempts < 0:
		return fmt.Errorf("record %s has negative sync attempts", r.ID)
	}
	return nil
}

// ClonePayload deep-copies nested maps and slices of a payload.
func ClonePayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return ClonePayload(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
