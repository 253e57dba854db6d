// Package models tests for data model definitions.
package models

import (
	"testing"
	"time"
)

// =====================================================
// MutationRecord Tests
// =====================================================

// TestMutationRecord_TableName verifies the table mapping.
func TestMutationRecord_TableName(t *testing.T) {
	if got := (MutationRecord{}).TableName(); got != "sync_queue" {
		t.Errorf("TableName() = %q, want sync_queue", got)
	}
	if got := (CachedContent{}).TableName(); got != "cached_content" {
		t.Errorf("TableName() = %q, want cached_content", got)
	}
}

// TestMutationRecord_Validate covers each malformation.
func TestMutationRecord_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		rec     MutationRecord
		wantErr bool
	}{
		{"valid", MutationRecord{ID: "A", Payload: map[string]interface{}{}, CreatedAt: now}, false},
		{"empty id", MutationRecord{Payload: map[string]interface{}{}, CreatedAt: now}, true},
		{"nil payload", MutationRecord{ID: "A", CreatedAt: now}, true},
		{"zero time", MutationRecord{ID: "A", Payload: map[string]interface{}{}}, true},
		{"negative attempts", MutationRecord{ID: "A", Payload: map[string]interface{}{}, CreatedAt: now, SyncAttempts: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestMutationRecord_CloneIsDeep verifies nested payload values are not shared.
func TestMutationRecord_CloneIsDeep(t *testing.T) {
	orig := MutationRecord{
		ID: "A",
		Payload: map[string]interface{}{
			"title": "draft",
			"meta":  map[string]interface{}{"rev": 1},
			"tags":  []interface{}{"x"},
		},
		CreatedAt: time.Now(),
	}

	cp := orig.Clone()
	cp.Payload["title"] = "changed"
	cp.Payload["meta"].(map[string]interface{})["rev"] = 2
	cp.Payload["tags"].([]interface{})[0] = "y"

	if orig.Payload["title"] != "draft" {
		t.Error("top-level payload shared with clone")
	}
	if orig.Payload["meta"].(map[string]interface{})["rev"] != 1 {
		t.Error("nested map shared with clone")
	}
	if orig.Payload["tags"].([]interface{})[0] != "x" {
		t.Error("nested slice shared with clone")
	}
}

// TestCachedContent_Clone verifies the data buffer is copied.
func TestCachedContent_Clone(t *testing.T) {
	orig := CachedContent{ID: "c1", Data: []byte("abc"), CachedAt: time.Now()}
	cp := orig.Clone()
	cp.Data[0] = 'z'

	if string(orig.Data) != "abc" {
		t.Errorf("Data = %q, clone shares buffer", orig.Data)
	}
	if (CachedContent{}).Clone().Data != nil {
		t.Error("Clone of nil data should stay nil")
	}
}

// TestClonePayload_nil verifies nil stays nil.
func TestClonePayload_nil(t *testing.T) {
	if ClonePayload(nil) != nil {
		t.Error("ClonePayload(nil) should be nil")
	}
}
