// Package handlers tests for sync REST API endpoints.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/events"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync"
)

// fakeEngine is a scripted SyncEngineInterface.
type fakeEngine struct {
	requested []bool
	syncErr   error
	outcome   sync.Outcome
	pending   []models.MutationRecord
	removed   []string
	enqueued  map[string]map[string]interface{}
	statusErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{enqueued: make(map[string]map[string]interface{})}
}

func (f *fakeEngine) SyncNow(ctx context.Context) (sync.Outcome, error) {
	return f.outcome, f.syncErr
}

func (f *fakeEngine) RequestSync(automatic bool) {
	f.requested = append(f.requested, automatic)
}

func (f *fakeEngine) Enqueue(ctx context.Context, id string, payload map[string]interface{}) (models.MutationRecord, error) {
	f.enqueued[id] = payload
	return models.MutationRecord{ID: id, Payload: payload}, nil
}

func (f *fakeEngine) Remove(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeEngine) Pending(ctx context.Context) ([]models.MutationRecord, error) {
	return f.pending, nil
}

func (f *fakeEngine) Status(ctx context.Context) (sync.Status, error) {
	return sync.Status{State: "idle", Online: true, Pending: len(f.pending)}, f.statusErr
}

func (f *fakeEngine) Subscribe(h events.Handler) func() {
	return func() {}
}

func newMux(h *SyncHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sync/status", h.GetStatus)
	mux.HandleFunc("POST /api/sync/trigger", h.TriggerSync)
	mux.HandleFunc("GET /api/sync/queue", h.ListQueue)
	mux.HandleFunc("POST /api/sync/queue", h.Enqueue)
	mux.HandleFunc("DELETE /api/sync/queue/{id}", h.RemoveQueued)
	return mux
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

// TestGetStatus verifies the status snapshot is returned as JSON.
func TestGetStatus(t *testing.T) {
	engine := newFakeEngine()
	engine.pending = []models.MutationRecord{{ID: "a"}}
	mux := newMux(NewSyncHandler(engine))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["state"] != "idle" || body["online"] != true || body["pending"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

// TestGetStatus_StoreUnavailable verifies error mapping.
func TestGetStatus_StoreUnavailable(t *testing.T) {
	engine := newFakeEngine()
	engine.statusErr = apperrors.Wrap(apperrors.ErrStoreUnavailable, "count", nil)
	mux := newMux(NewSyncHandler(engine))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if decode(t, w)["error"] != "store_unavailable" {
		t.Errorf("body = %s", w.Body.String())
	}
}

// TestTriggerSync_Async verifies a manual request is submitted without waiting.
func TestTriggerSync_Async(t *testing.T) {
	engine := newFakeEngine()
	mux := newMux(NewSyncHandler(engine))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(engine.requested) != 1 || engine.requested[0] {
		t.Errorf("requested = %v, want one manual request", engine.requested)
	}
}

// TestTriggerSync_Wait verifies the outcome is returned and errors are mapped.
func TestTriggerSync_Wait(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{"completed", nil, http.StatusOK, ""},
		{"in progress", apperrors.New(apperrors.ErrSyncInProgress, "busy"), http.StatusConflict, "sync_in_progress"},
		{"offline", apperrors.New(apperrors.ErrSyncOffline, "offline"), http.StatusServiceUnavailable, "offline"},
		{"not initialized", apperrors.New(apperrors.ErrSyncNotInitialized, "x"), http.StatusServiceUnavailable, "not_initialized"},
		{"fatal", apperrors.New(apperrors.ErrSyncFatal, "drain failed: secret"), http.StatusInternalServerError, "fatal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			engine.syncErr = tt.err
			engine.outcome = sync.Outcome{State: "completed", Synced: 2, Total: 2}
			mux := newMux(NewSyncHandler(engine))

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/trigger?wait=true", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decode(t, w)
			if tt.err == nil {
				if body["state"] != "completed" || body["synced"] != float64(2) {
					t.Errorf("body = %v", body)
				}
				return
			}
			if body["error"] != tt.wantReason {
				t.Errorf("error = %v, want %s", body["error"], tt.wantReason)
			}
			if strings.Contains(w.Body.String(), "secret") {
				t.Error("raw error text leaked to client")
			}
		})
	}
}

// TestQueueEndpoints verifies enqueue, list and remove.
func TestQueueEndpoints(t *testing.T) {
	engine := newFakeEngine()
	mux := newMux(NewSyncHandler(engine))

	body := bytes.NewBufferString(`{"id":"note-1","payload":{"title":"offline edit"}}`)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/queue", body))
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, want 201", w.Code)
	}
	if engine.enqueued["note-1"]["title"] != "offline edit" {
		t.Errorf("enqueued = %v", engine.enqueued)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/queue", bytes.NewBufferString(`{"payload":{}}`)))
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue without id status = %d, want 201", w.Code)
	}
	generated := decode(t, w)["id"].(string)
	if !strings.HasPrefix(generated, "mut-") {
		t.Errorf("generated id = %q, want mut- prefix", generated)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/queue", bytes.NewBufferString(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}

	engine.pending = []models.MutationRecord{{ID: "note-1"}}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sync/queue", nil))
	if w.Code != http.StatusOK || decode(t, w)["total"] != float64(1) {
		t.Errorf("list = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/sync/queue/note-1", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", w.Code)
	}
	if len(engine.removed) != 1 || engine.removed[0] != "note-1" {
		t.Errorf("removed = %v", engine.removed)
	}
}

// TestMethodNotAllowed verifies method routing.
func TestMethodNotAllowed(t *testing.T) {
	mux := newMux(NewSyncHandler(newFakeEngine()))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/sync/trigger", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
