// Package telemetry keeps local sync statistics derived from engine events.
//
// Nothing here is transmitted. The counters live in process memory and are
// only read through Snapshot, for the local status API.
package telemetry

import (
	stdsync "sync"
	"time"

	"github.com/kimhsiao/memonexus/syncengine/internal/events"
)

// Stats is a point-in-time copy of the collected counters.
type Stats struct {
	DrainsStarted     int64 `json:"drains_started"`
	DrainsCompleted   int64 `json:"drains_completed"`
	DrainsPartial     int64 `json:"drains_partial"`
	DrainsInterrupted int64 `json:"drains_interrupted"`
	Errors            int64 `json:"errors"`
	ItemsSynced       int64 `json:"items_synced"`
	ItemsFailed       int64 `json:"items_failed"`
	ConnectivityFlaps int64 `json:"connectivity_changes"`

	// LastDrainDuration is measured from SyncStarted to the terminal event.
	LastDrainDuration time.Duration    `json:"last_drain_duration_ns"`
	ErrorReasons      map[string]int64 `json:"error_reasons,omitempty"`
}

// Collector counts engine events. Its Handle method is an events.Handler.
type Collector struct {
	mu      stdsync.Mutex
	stats   Stats
	started time.Time
	now     func() time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// Handle records e. It runs on the engine loop and never blocks.
func (c *Collector) Handle(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case events.ConnectivityChanged:
		c.stats.ConnectivityFlaps++
	case events.SyncStarted:
		c.stats.DrainsStarted++
		c.started = c.now()
	case events.SyncCompleted:
		c.stats.DrainsCompleted++
		c.stats.ItemsSynced += int64(ev.Synced)
		c.finishDrain()
	case events.SyncPartiallyCompleted:
		c.stats.DrainsPartial++
		if ev.Interrupted {
			c.stats.DrainsInterrupted++
		}
		c.stats.ItemsSynced += int64(ev.Synced)
		c.stats.ItemsFailed += int64(len(ev.FailedIDs))
		c.finishDrain()
	case events.SyncError:
		c.stats.Errors++
		if c.stats.ErrorReasons == nil {
			c.stats.ErrorReasons = make(map[string]int64)
		}
		c.stats.ErrorReasons[ev.Reason]++
		c.finishDrain()
	}
}

func (c *Collector) finishDrain() {
	if c.started.IsZero() {
		return
	}
	c.stats.LastDrainDuration = c.now().Sub(c.started)
	c.started = time.Time{}
}

// Snapshot returns a copy of the counters.
func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.stats
	if c.stats.ErrorReasons != nil {
		out.ErrorReasons = make(map[string]int64, len(c.stats.ErrorReasons))
		for k, v := range c.stats.ErrorReasons {
			out.ErrorReasons[k] = v
		}
	}
	return out
}
