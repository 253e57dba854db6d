// Package handlers provides REST API handlers for sync status, triggers
// and the pending mutation queue.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync"
	"github.com/kimhsiao/memonexus/syncengine/internal/uuid"
)

// SyncHandler handles sync operations.
type SyncHandler struct {
	engine sync.SyncEngineInterface
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine sync.SyncEngineInterface) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// TriggerSync handles POST /api/sync/trigger
// With ?wait=true the response carries the drain outcome; otherwise the
// request is submitted and 202 is returned immediately.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") != "true" {
		h.engine.RequestSync(false)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "requested",
		})
		return
	}

	outcome, err := h.engine.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ListQueue handles GET /api/sync/queue
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": pending,
		"total": len(pending),
	})
}

// Enqueue handles POST /api/sync/queue
// A missing id is generated.
func (h *SyncHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ID      string                 `json:"id"`
		Payload map[string]interface{} `json:"payload"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id := strings.TrimSpace(request.ID)
	if id == "" {
		id = uuid.NewMutationID()
	}

	rec, err := h.engine.Enqueue(r.Context(), id, request.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// RemoveQueued handles DELETE /api/sync/queue/{id}
func (h *SyncHandler) RemoveQueued(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.engine.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError maps engine error codes to HTTP statuses. Only the
// classified reason is returned to the client.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrSyncOffline, apperrors.ErrSyncNotInitialized, apperrors.ErrStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logging.Error("Sync request failed", err)
	}

	writeJSON(w, status, map[string]interface{}{
		"error": apperrors.Reason(err),
		"code":  string(apperrors.CodeOf(err)),
	})
}
