// Package queue provides unit tests for the sync queue manager.
package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/actor"
)

// fakeClock returns a fixed instant that tests can move.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *fakeClock) {
	t.Helper()
	loop := actor.New()
	t.Cleanup(loop.Close)

	store := NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewManager(store, loop, WithClock(clock.Now)), store, clock
}

// failingStore fails every operation.
type failingStore struct{}

var errDisk = errors.New("disk I/O error")

func (failingStore) Put(context.Context, models.MutationRecord) error { return errDisk }
func (failingStore) Get(context.Context, string) (models.MutationRecord, bool, error) {
	return models.MutationRecord{}, false, errDisk
}
func (failingStore) Delete(context.Context, string) error { return errDisk }
func (failingStore) ListAll(context.Context) ([]models.MutationRecord, error) {
	return nil, errDisk
}

// =====================================================
// Enqueue
// =====================================================

// TestEnqueue_CreatesRecord verifies a new record starts with zero attempts.
func TestEnqueue_CreatesRecord(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Enqueue(ctx, "A", map[string]interface{}{"title": "hello"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if rec.ID != "A" {
		t.Errorf("ID = %q, want A", rec.ID)
	}
	if rec.SyncAttempts != 0 {
		t.Errorf("SyncAttempts = %d, want 0", rec.SyncAttempts)
	}
	if !rec.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, clock.Now())
	}

	size, _ := m.Size(ctx)
	if size != 1 {
		t.Errorf("Size = %d, want 1", size)
	}
}

// TestEnqueue_RejectsEmptyID verifies empty ids are invalid input.
func TestEnqueue_RejectsEmptyID(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Enqueue(context.Background(), "", map[string]interface{}{})
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

// TestEnqueue_NilPayloadStoredAsEmpty verifies a nil payload is not treated as malformed.
func TestEnqueue_NilPayloadStoredAsEmpty(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, "A", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	snap, err := m.DequeueAll(ctx)
	if err != nil {
		t.Fatalf("DequeueAll failed: %v", err)
	}
	if snap.Len() != 1 || len(snap.Corrupt) != 0 {
		t.Errorf("snapshot = %d records, %d corrupt; want 1, 0", snap.Len(), len(snap.Corrupt))
	}
}

// TestEnqueue_OverwriteResetsAttempts verifies re-enqueue replaces the record.
func TestEnqueue_OverwriteResetsAttempts(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	first, _ := m.Enqueue(ctx, "A", map[string]interface{}{"v": 1})
	m.RecordFailure(ctx, first, "transient")
	m.RecordFailure(ctx, first, "transient")

	clock.Advance(time.Second)
	m.Enqueue(ctx, "A", map[string]interface{}{"v": 2})

	rec, found, err := m.Get(ctx, "A")
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if rec.SyncAttempts != 0 {
		t.Errorf("SyncAttempts = %d, want 0", rec.SyncAttempts)
	}
	if rec.Payload["v"] != 2 {
		t.Errorf("Payload v = %v, want 2", rec.Payload["v"])
	}
	if rec.LastError != "" {
		t.Errorf("LastError = %q, want empty", rec.LastError)
	}

	size, _ := m.Size(ctx)
	if size != 1 {
		t.Errorf("Size = %d, want 1 (no duplicates)", size)
	}
}

// TestEnqueue_CopiesPayload verifies caller mutations after enqueue are not stored.
func TestEnqueue_CopiesPayload(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	payload := map[string]interface{}{"tags": []interface{}{"a"}}
	m.Enqueue(ctx, "A", payload)
	payload["tags"].([]interface{})[0] = "mutated"

	rec, _, _ := m.Get(ctx, "A")
	if got := rec.Payload["tags"].([]interface{})[0]; got != "a" {
		t.Errorf("stored tag = %v, want a", got)
	}
}

// TestEnqueue_StoreFailure verifies store errors surface as STORE_UNAVAILABLE.
func TestEnqueue_StoreFailure(t *testing.T) {
	loop := actor.New()
	defer loop.Close()
	m := NewManager(failingStore{}, loop)

	_, err := m.Enqueue(context.Background(), "A", map[string]interface{}{})
	if !apperrors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("expected STORE_UNAVAILABLE, got %v", err)
	}
	if !errors.Is(err, errDisk) {
		t.Error("expected underlying store error to be wrapped")
	}
}

// =====================================================
// DequeueAll
// =====================================================

// TestDequeueAll_OrderedByCreatedAt verifies FIFO by creation time.
func TestDequeueAll_OrderedByCreatedAt(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"C", "A", "B"} {
		m.Enqueue(ctx, id, map[string]interface{}{})
		clock.Advance(time.Millisecond)
	}

	snap, err := m.DequeueAll(ctx)
	if err != nil {
		t.Fatalf("DequeueAll failed: %v", err)
	}

	want := []string{"C", "A", "B"}
	for i, rec := range snap.Records {
		if rec.ID != want[i] {
			t.Errorf("Records[%d] = %s, want %s", i, rec.ID, want[i])
		}
	}
}

// TestDequeueAll_TiesKeepInsertionOrder verifies equal timestamps keep store order.
func TestDequeueAll_TiesKeepInsertionOrder(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	ids := []string{"z", "m", "a", "q"}
	for _, id := range ids {
		m.Enqueue(ctx, id, map[string]interface{}{})
	}

	snap, _ := m.DequeueAll(ctx)
	if snap.Len() != len(ids) {
		t.Fatalf("Len = %d, want %d", snap.Len(), len(ids))
	}
	for i, rec := range snap.Records {
		if rec.ID != ids[i] {
			t.Errorf("Records[%d] = %s, want %s", i, rec.ID, ids[i])
		}
	}
}

// TestDequeueAll_ReenqueueMovesToBack verifies overwrite takes the new creation time.
func TestDequeueAll_ReenqueueMovesToBack(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	m.Enqueue(ctx, "A", map[string]interface{}{})
	clock.Advance(time.Millisecond)
	m.Enqueue(ctx, "B", map[string]interface{}{})
	clock.Advance(time.Millisecond)
	m.Enqueue(ctx, "A", map[string]interface{}{"v": 2})

	snap, _ := m.DequeueAll(ctx)
	if snap.Len() != 2 {
		t.Fatalf("Len = %d, want 2", snap.Len())
	}
	if snap.Records[0].ID != "B" || snap.Records[1].ID != "A" {
		t.Errorf("order = [%s %s], want [B A]", snap.Records[0].ID, snap.Records[1].ID)
	}
}

// TestDequeueAll_SnapshotIsolation verifies later writes do not change a snapshot.
func TestDequeueAll_SnapshotIsolation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	m.Enqueue(ctx, "A", map[string]interface{}{"nested": map[string]interface{}{"k": "v"}})

	snap, _ := m.DequeueAll(ctx)

	m.Enqueue(ctx, "B", map[string]interface{}{})
	m.Remove(ctx, "A")

	if snap.Len() != 1 || snap.Records[0].ID != "A" {
		t.Fatalf("snapshot changed after later writes: %+v", snap.Records)
	}

	snap.Records[0].Payload["nested"].(map[string]interface{})["k"] = "changed"
	again, _ := m.DequeueAll(ctx)
	if again.Len() != 1 || again.Records[0].ID != "B" {
		t.Errorf("second snapshot = %+v, want only B", again.Records)
	}
}

// TestDequeueAll_SkipsMalformed verifies corrupt records are reported, not returned.
func TestDequeueAll_SkipsMalformed(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()

	m.Enqueue(ctx, "good", map[string]interface{}{})
	store.Put(ctx, models.MutationRecord{ID: "no-payload", CreatedAt: clock.Now()})
	store.Put(ctx, models.MutationRecord{ID: "no-time", Payload: map[string]interface{}{}})

	snap, err := m.DequeueAll(ctx)
	if err != nil {
		t.Fatalf("DequeueAll failed: %v", err)
	}
	if snap.Len() != 1 || snap.Records[0].ID != "good" {
		t.Errorf("Records = %+v, want only good", snap.Records)
	}
	if len(snap.Corrupt) != 2 {
		t.Errorf("Corrupt = %v, want 2 ids", snap.Corrupt)
	}

	// Corrupt records stay in the store.
	size, _ := m.Size(ctx)
	if size != 3 {
		t.Errorf("Size = %d, want 3", size)
	}
}

// TestDequeueAll_Empty verifies an empty queue yields an empty snapshot.
func TestDequeueAll_Empty(t *testing.T) {
	m, _, _ := newTestManager(t)

	snap, err := m.DequeueAll(context.Background())
	if err != nil {
		t.Fatalf("DequeueAll failed: %v", err)
	}
	if snap.Len() != 0 {
		t.Errorf("Len = %d, want 0", snap.Len())
	}
}

// =====================================================
// Remove / RecordFailure / Size
// =====================================================

// TestRemove_Idempotent verifies removing twice or removing a missing id is fine.
func TestRemove_Idempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	m.Enqueue(ctx, "A", map[string]interface{}{})

	for i := 0; i < 2; i++ {
		if err := m.Remove(ctx, "A"); err != nil {
			t.Fatalf("Remove #%d failed: %v", i+1, err)
		}
	}
	if err := m.Remove(ctx, "never-enqueued"); err != nil {
		t.Errorf("Remove missing id failed: %v", err)
	}

	size, _ := m.Size(ctx)
	if size != 0 {
		t.Errorf("Size = %d, want 0", size)
	}
}

// TestRecordFailure verifies attempts increment and the record is retained.
func TestRecordFailure(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	queued, _ := m.Enqueue(ctx, "A", map[string]interface{}{})

	for i := 1; i <= 3; i++ {
		found, err := m.RecordFailure(ctx, queued, "transient")
		if err != nil || !found {
			t.Fatalf("RecordFailure failed: found=%v err=%v", found, err)
		}
		rec, _, _ := m.Get(ctx, "A")
		if rec.SyncAttempts != i {
			t.Errorf("SyncAttempts = %d, want %d", rec.SyncAttempts, i)
		}
		if rec.LastError != "transient" {
			t.Errorf("LastError = %q, want transient", rec.LastError)
		}
	}

	found, _ := m.RecordFailure(ctx, models.MutationRecord{ID: "missing"}, "transient")
	if found {
		t.Error("RecordFailure on missing id should report not found")
	}
}

// TestSize_TracksDistinctIDs verifies size equals distinct ids enqueued minus removed.
func TestSize_TracksDistinctIDs(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.Enqueue(ctx, fmt.Sprintf("id-%d", i%7), map[string]interface{}{"i": i})
	}
	m.Remove(ctx, "id-0")
	m.Remove(ctx, "id-1")
	m.Remove(ctx, "id-1")

	size, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 5 {
		t.Errorf("Size = %d, want 5", size)
	}
}

// TestSize_WithoutCounter verifies the ListAll fallback.
func TestSize_WithoutCounter(t *testing.T) {
	loop := actor.New()
	defer loop.Close()

	type listOnly struct{ Store }
	store := listOnly{NewMemoryStore()}
	m := NewManager(store, loop)
	ctx := context.Background()

	m.Enqueue(ctx, "A", map[string]interface{}{})
	m.Enqueue(ctx, "B", map[string]interface{}{})

	size, err := m.Size(ctx)
	if err != nil || size != 2 {
		t.Errorf("Size = %d, %v; want 2, nil", size, err)
	}
}

// TestComplete_RemovesSnapshottedRecord verifies completion of an unchanged record.
func TestComplete_RemovesSnapshottedRecord(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	m.Enqueue(ctx, "A", map[string]interface{}{})
	snap, _ := m.DequeueAll(ctx)

	removed, err := m.Complete(ctx, snap.Records[0])
	if err != nil || !removed {
		t.Fatalf("Complete = %v, %v; want true, nil", removed, err)
	}

	removed, err = m.Complete(ctx, snap.Records[0])
	if err != nil || removed {
		t.Errorf("second Complete = %v, %v; want false, nil", removed, err)
	}
}

// TestComplete_KeepsReenqueuedRecord verifies a newer write is not lost.
func TestComplete_KeepsReenqueuedRecord(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	m.Enqueue(ctx, "A", map[string]interface{}{"v": 1})
	snap, _ := m.DequeueAll(ctx)

	clock.Advance(time.Second)
	m.Enqueue(ctx, "A", map[string]interface{}{"v": 2})

	removed, err := m.Complete(ctx, snap.Records[0])
	if err != nil || removed {
		t.Fatalf("Complete = %v, %v; want false, nil", removed, err)
	}

	rec, found, _ := m.Get(ctx, "A")
	if !found || rec.Payload["v"] != 2 {
		t.Errorf("record = %+v, found=%v; want v=2", rec, found)
	}
}

// TestRecordFailure_KeepsReenqueuedRecord verifies a failure reported for a
// stale snapshot does not touch the newer write.
func TestRecordFailure_KeepsReenqueuedRecord(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	m.Enqueue(ctx, "A", map[string]interface{}{"v": 1})
	snap, _ := m.DequeueAll(ctx)

	clock.Advance(time.Second)
	m.Enqueue(ctx, "A", map[string]interface{}{"v": 2})

	found, err := m.RecordFailure(ctx, snap.Records[0], "transient")
	if err != nil || found {
		t.Fatalf("RecordFailure = %v, %v; want false, nil", found, err)
	}

	rec, found, _ := m.Get(ctx, "A")
	if !found {
		t.Fatal("newer record was removed")
	}
	if rec.SyncAttempts != 0 || rec.LastError != "" {
		t.Errorf("attempts=%d last_error=%q; want 0, empty", rec.SyncAttempts, rec.LastError)
	}
	if rec.Payload["v"] != 2 {
		t.Errorf("payload = %v, want v=2", rec.Payload)
	}
}
