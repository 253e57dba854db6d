// Package models provides data model definitions for the sync engine.
package models

import "time"

// ConflictRecord describes divergent local and remote state for one mutation.
// It lives only for the drain step that detected it.
type ConflictRecord struct {
	ConflictID string                 `json:"conflict_id"`
	MutationID string                 `json:"mutation_id"`
	Local      map[string]interface{} `json:"local"`
	Remote     map[string]interface{} `json:"remote"`
	DetectedAt time.Time              `json:"detected_at"`
}
