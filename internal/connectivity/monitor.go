package connectivity

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
)

// QueueSizer reports the number of pending mutations.
type QueueSizer interface {
	Size(ctx context.Context) (int, error)
}

// SyncRequester accepts sync requests.
type SyncRequester interface {
	RequestSync(automatic bool)
}

// ChangeFunc receives every online/offline transition.
type ChangeFunc func(oldOnline, newOnline bool)

// Monitor owns the process-wide online flag. It is the only writer of the
// flag; every other component reads it through IsOnline.
type Monitor struct {
	source    Source
	queue     QueueSizer
	requester SyncRequester
	onChange  ChangeFunc

	online atomic.Bool

	mu          sync.Mutex
	sub         Subscription
	initialized bool
}

// NewMonitor creates a Monitor. onChange may be nil.
func NewMonitor(source Source, queue QueueSizer, requester SyncRequester, onChange ChangeFunc) *Monitor {
	return &Monitor{
		source:    source,
		queue:     queue,
		requester: requester,
		onChange:  onChange,
	}
}

// Initialize reads the current state once and subscribes for transitions.
// A failing source never blocks startup: the monitor assumes online and
// logs the fault.
func (m *Monitor) Initialize(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return
	}
	m.initialized = true

	online, err := m.source.CurrentState(ctx)
	if err != nil {
		logging.ErrorWithCode("Connectivity source failed to report state, assuming online",
			string(apperrors.ErrInternal), err)
		online = true
	}
	m.online.Store(online)

	sub, err := m.source.Subscribe(m.handle)
	if err != nil {
		logging.ErrorWithCode("Connectivity source subscription failed, transitions will be missed",
			string(apperrors.ErrInternal), err)
		return
	}
	m.sub = sub

	logging.Info("Connectivity monitor initialized", map[string]interface{}{"online": online})
}

// IsOnline returns the current online flag.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Close cancels the source subscription. Later notifications are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

func (m *Monitor) handle(online bool) {
	old := m.online.Swap(online)
	if old == online {
		return
	}

	logging.Info("Connectivity changed", map[string]interface{}{"from": old, "to": online})

	if m.onChange != nil {
		m.onChange(old, online)
	}

	if old || !online || m.requester == nil {
		return
	}

	n, err := m.queue.Size(context.Background())
	if err != nil {
		logging.Error("Failed to read queue size after reconnect", err)
		return
	}
	if n > 0 {
		logging.Info("Back online with pending mutations, requesting sync",
			map[string]interface{}{"pending": n})
		m.requester.RequestSync(true)
	}
}
