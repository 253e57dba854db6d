// Package events defines what the sync engine emits and a Bus that
// delivers it to subscribers in emission order.
package events

import (
	"sort"
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	TypeConnectivityChanged    Type = "connectivity_changed"
	TypeSyncStarted            Type = "sync_started"
	TypeSyncProgress           Type = "sync_progress"
	TypeSyncCompleted          Type = "sync_completed"
	TypeSyncPartiallyCompleted Type = "sync_partially_completed"
	TypeSyncError              Type = "sync_error"
)

// Event is implemented by every emitted event.
type Event interface {
	Type() Type
}

// ConnectivityChanged reports an online/offline transition.
type ConnectivityChanged struct {
	Old bool `json:"old"`
	New bool `json:"new"`
}

// SyncStarted reports that a drain began.
type SyncStarted struct {
	SessionID string    `json:"session_id"`
	Automatic bool      `json:"automatic"`
	StartedAt time.Time `json:"started_at"`
}

// SyncProgress reports one successfully synced item.
type SyncProgress struct {
	SessionID string `json:"session_id"`
	Total     int    `json:"total"`
	Synced    int    `json:"synced"`
}

// SyncCompleted reports a drain with no failed items.
type SyncCompleted struct {
	SessionID string `json:"session_id"`
	Synced    int    `json:"synced"`
}

// SyncPartiallyCompleted reports a drain that left items queued.
type SyncPartiallyCompleted struct {
	SessionID   string   `json:"session_id"`
	Synced      int      `json:"synced"`
	FailedIDs   []string `json:"failed_ids"`
	Interrupted bool     `json:"interrupted"` // stopped early by going offline
}

// SyncError reports a classified failure. Reason never carries raw remote text.
type SyncError struct {
	Reason string `json:"reason"`
}

func (ConnectivityChanged) Type() Type    { return TypeConnectivityChanged }
func (SyncStarted) Type() Type            { return TypeSyncStarted }
func (SyncProgress) Type() Type           { return TypeSyncProgress }
func (SyncCompleted) Type() Type          { return TypeSyncCompleted }
func (SyncPartiallyCompleted) Type() Type { return TypeSyncPartiallyCompleted }
func (SyncError) Type() Type              { return TypeSyncError }

// Handler receives events.
type Handler func(Event)

// Bus fans events out to subscribers. Publish delivers synchronously, so a
// single publisher's events reach every handler in order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every handler in subscription order. Handlers must
// not block for long: the publisher waits for them.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]Handler, len(ids))
	for i, id := range ids {
		hs[i] = b.handlers[id]
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
