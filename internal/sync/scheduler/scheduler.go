// Package scheduler provides the periodic sync trigger.
//
// The trigger fires an automatic sync request on a fixed interval for the
// lifetime of the engine, independent of connectivity transitions, to catch
// transitions the connectivity source never reported. Whether a request
// turns into a drain is the coordinator's decision.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
)

// Requester accepts sync requests.
type Requester interface {
	RequestSync(automatic bool)
}

// Scheduler fires periodic sync requests.
type Scheduler struct {
	requester    Requester
	syncInterval time.Duration
	newTicker    func(d time.Duration) (<-chan time.Time, func())

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	fired     int
	lastFired time.Time
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to request a sync (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(requester Requester, config *SchedulerConfig) *Scheduler {
	if config == nil || config.SyncInterval <= 0 {
		config = DefaultSchedulerConfig()
	}

	return &Scheduler{
		requester:    requester,
		syncInterval: config.SyncInterval,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start starts the periodic trigger. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx, stopCh)

	logging.Info("Periodic sync trigger started",
		map[string]interface{}{"interval": s.syncInterval.String()})
}

// Stop stops the trigger and waits for its goroutine to exit. No request
// is fired after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Periodic sync trigger stopped", nil)
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	tick, stop := s.newTicker(s.syncInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-tick:
			// A tick racing with Stop must not fire.
			select {
			case <-stopCh:
				return
			default:
			}

			s.mu.Lock()
			s.fired++
			s.lastFired = now
			s.mu.Unlock()

			logging.Debug("Periodic sync tick", nil)
			s.requester.RequestSync(true)
		}
	}
}

// SchedulerStatus is a snapshot of the trigger.
type SchedulerStatus struct {
	IsRunning    bool
	Interval     time.Duration
	Fired        int
	LastFireTime *time.Time
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning: s.isRunning,
		Interval:  s.syncInterval,
		Fired:     s.fired,
	}
	if !s.lastFired.IsZero() {
		t := s.lastFired
		status.LastFireTime = &t
	}
	return status
}
