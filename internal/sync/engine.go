// Package sync provides the offline-first synchronization engine.
//
// An Engine queues local mutations while offline and drains them to a
// remote writer when connectivity allows. All coordinator state changes
// and store access run on one sequential actor loop per engine; connectivity
// callbacks, the periodic trigger and callers only submit work to it.
package sync

import (
	"context"
	"io"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kimhsiao/memonexus/syncengine/internal/connectivity"
	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/events"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/actor"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/cache"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/conflict"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/queue"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/remote"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/scheduler"
	"github.com/kimhsiao/memonexus/syncengine/internal/uuid"
)

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Queue        queue.Store
	Cache        cache.Store
	Remote       remote.Writer
	Connectivity connectivity.Source
	// Policy picks a conflict strategy per conflict. Nil leaves every
	// conflict unresolved.
	Policy conflict.Policy
}

// Option configures an Engine.
type Option func(*Engine)

// WithSyncInterval sets the periodic trigger interval.
func WithSyncInterval(d time.Duration) Option {
	return func(e *Engine) { e.syncInterval = d }
}

// WithClock sets the time source for record and session timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSessionIDs sets the session id generator.
func WithSessionIDs(next func() string) Option {
	return func(e *Engine) { e.newSessionID = next }
}

// WithoutPeriodicTrigger disables the periodic trigger.
func WithoutPeriodicTrigger() Option {
	return func(e *Engine) { e.noPeriodic = true }
}

// Engine is the synchronization engine.
type Engine struct {
	loop      *actor.Loop
	bus       *events.Bus
	queue     *queue.Manager
	cache     *cache.Manager
	writer    remote.Writer
	resolver  *conflict.Resolver
	monitor   *connectivity.Monitor
	scheduler *scheduler.Scheduler
	closers   []io.Closer

	now          func() time.Time
	newSessionID func() string
	syncInterval time.Duration
	noPeriodic   bool

	// Loop-owned.
	state       State
	fatal       bool
	initErr     error // init failure waiting for the running drain to settle
	closing     bool
	last        *Outcome
	lastSuccess *time.Time
	lastReason  string
	waiters     []*waiter

	activeDrains atomic.Int32
	maxDrains    atomic.Int32
	stopping     atomic.Bool
	drainWG      stdsync.WaitGroup

	startOnce stdsync.Once
	closeOnce stdsync.Once
	closeErr  error
}

// New creates an Engine. Nothing runs until Start.
func New(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		loop:         actor.New(),
		bus:          events.NewBus(),
		writer:       deps.Remote,
		resolver:     conflict.NewResolver(deps.Policy),
		now:          time.Now,
		newSessionID: uuid.NewSessionID,
		syncInterval: scheduler.DefaultSchedulerConfig().SyncInterval,
		state:        Idle{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryStore()
	}

	e.queue = queue.NewManager(deps.Queue, e.loop, queue.WithClock(e.now))
	e.cache = cache.NewManager(deps.Cache, e.loop, e.now)
	e.monitor = connectivity.NewMonitor(deps.Connectivity, e.queue, e, e.onConnectivityChanged)
	e.scheduler = scheduler.NewScheduler(e, &scheduler.SchedulerConfig{SyncInterval: e.syncInterval})

	for _, s := range []interface{}{deps.Queue, deps.Cache} {
		if c, ok := s.(io.Closer); ok {
			e.closers = append(e.closers, c)
		}
	}
	if c, ok := deps.Connectivity.(interface{ Close() }); ok {
		e.closers = append(e.closers, closerFunc(c.Close))
	}

	return e
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// Start initializes the engine, subscribes to connectivity, starts the
// periodic trigger and, when online with pending mutations, requests one
// startup sync. A store that cannot be read makes Start return the error
// after emitting SyncError; the engine then refuses drains until
// Reinitialize succeeds. Start is effective once.
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		err = e.Initialize(ctx)
		e.monitor.Initialize(ctx)
		if !e.noPeriodic {
			e.scheduler.Start(context.Background())
		}
		if err != nil {
			return
		}
		e.requestPendingSync(ctx)
	})
	return err
}

// Initialize checks that the queue store can be read. On failure it emits
// SyncError once and marks the engine not initialized.
func (e *Engine) Initialize(ctx context.Context) error {
	_, err := e.queue.Size(ctx)

	derr := e.loop.Do(ctx, func() error {
		if err == nil {
			if e.fatal {
				logging.Info("Sync engine reinitialized", nil)
			}
			e.fatal = false
			e.initErr = nil
			return nil
		}
		return e.reportInitFailure(err)
	})
	if derr != nil {
		return derr
	}

	if err != nil {
		logging.ErrorWithCode("Sync engine initialization failed", string(apperrors.ErrStoreUnavailable), err)
		return apperrors.Wrap(apperrors.ErrSyncNotInitialized, "initialize sync engine", err)
	}
	return nil
}

// reportInitFailure marks the engine not initialized and emits SyncError
// once. During a drain the report waits until the drain settles. Runs on
// the loop.
func (e *Engine) reportInitFailure(err error) error {
	if e.fatal {
		// Already reported.
		return nil
	}
	if _, running := e.state.(Running); running {
		e.initErr = err
		return nil
	}

	if aerr := e.apply(initFailed{err: err}); aerr != nil {
		return aerr
	}
	e.fatal = true
	e.initErr = nil
	e.lastReason = apperrors.Reason(err)
	out := outcomeOf(e.state)
	e.last = &out
	return e.apply(settled{})
}

// Reinitialize retries initialization after a fatal failure. On success
// it requests a sync when online with pending mutations, as Start does.
func (e *Engine) Reinitialize(ctx context.Context) error {
	if err := e.Initialize(ctx); err != nil {
		return err
	}
	e.requestPendingSync(ctx)
	return nil
}

// requestPendingSync issues one automatic request when online with
// pending mutations.
func (e *Engine) requestPendingSync(ctx context.Context) {
	if !e.monitor.IsOnline() {
		return
	}
	n, err := e.queue.Size(ctx)
	if err == nil && n > 0 {
		logging.Info("Pending mutations after initialization, requesting sync",
			map[string]interface{}{"pending": n})
		e.RequestSync(true)
	}
}

// RequestSync submits a sync request without waiting. It is discarded
// when a drain is running, when offline, or when not initialized.
func (e *Engine) RequestSync(automatic bool) {
	e.loop.Post(func() { e.handleSyncRequest(automatic, nil) })
}

// SyncNow submits a manual sync request and waits for its outcome.
// A discarded request returns SYNC_IN_PROGRESS, SYNC_OFFLINE or
// SYNC_NOT_INITIALIZED.
func (e *Engine) SyncNow(ctx context.Context) (Outcome, error) {
	w := &waiter{ch: make(chan waitResult, 1)}
	if !e.loop.Post(func() { e.handleSyncRequest(false, w) }) {
		return Outcome{}, apperrors.New(apperrors.ErrSyncNotInitialized, "engine is closed")
	}

	select {
	case r := <-w.ch:
		return r.outcome, r.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Enqueue records a local mutation. It works offline.
func (e *Engine) Enqueue(ctx context.Context, id string, payload map[string]interface{}) (models.MutationRecord, error) {
	return e.queue.Enqueue(ctx, id, payload)
}

// Remove drops a pending mutation. Missing ids are a no-op.
func (e *Engine) Remove(ctx context.Context, id string) error {
	return e.queue.Remove(ctx, id)
}

// Size returns the pending mutation count.
func (e *Engine) Size(ctx context.Context) (int, error) {
	return e.queue.Size(ctx)
}

// Pending returns the pending mutations in drain order.
func (e *Engine) Pending(ctx context.Context) ([]models.MutationRecord, error) {
	return e.queue.List(ctx)
}

// CacheContent stores content for offline reads.
func (e *Engine) CacheContent(ctx context.Context, id string, data []byte) (models.CachedContent, error) {
	return e.cache.Put(ctx, id, data)
}

// CachedContent returns cached content for id.
func (e *Engine) CachedContent(ctx context.Context, id string) (models.CachedContent, bool, error) {
	return e.cache.Get(ctx, id)
}

// RemoveCached evicts cached content. Missing ids are a no-op.
func (e *Engine) RemoveCached(ctx context.Context, id string) error {
	return e.cache.Remove(ctx, id)
}

// ListCached returns every cached entry.
func (e *Engine) ListCached(ctx context.Context) ([]models.CachedContent, error) {
	return e.cache.List(ctx)
}

// Subscribe registers h for engine events. Handlers run on the engine loop
// in emission order; they must not call blocking Engine methods.
func (e *Engine) Subscribe(h events.Handler) (unsubscribe func()) {
	return e.bus.Subscribe(h)
}

// IsOnline returns the monitor's online flag.
func (e *Engine) IsOnline() bool {
	return e.monitor.IsOnline()
}

// Status is a point-in-time view of the engine.
type Status struct {
	State           string     `json:"state"`
	Online          bool       `json:"online"`
	Initialized     bool       `json:"initialized"`
	Pending         int        `json:"pending"`
	Session         *Session   `json:"session,omitempty"`
	LastOutcome     *Outcome   `json:"last_outcome,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastErrorReason string     `json:"last_error_reason,omitempty"`
	PeriodicRunning bool       `json:"periodic_running"`
	Interval        string     `json:"interval"`
	PeriodicFired   int        `json:"periodic_fired"`
	LastPeriodicAt  *time.Time `json:"last_periodic_at,omitempty"`
}

// Status returns the current engine status.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.loop.Do(ctx, func() error {
		st.State = e.state.Name()
		st.Initialized = !e.fatal && e.initErr == nil
		if r, ok := e.state.(Running); ok {
			sess := r.Session.clone()
			st.Session = &sess
		}
		if e.last != nil {
			out := *e.last
			out.FailedIDs = append([]string(nil), out.FailedIDs...)
			st.LastOutcome = &out
		}
		if e.lastSuccess != nil {
			t := *e.lastSuccess
			st.LastSuccessAt = &t
		}
		st.LastErrorReason = e.lastReason
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	st.Online = e.monitor.IsOnline()
	sched := e.scheduler.GetStatus()
	st.PeriodicRunning = sched.IsRunning
	st.Interval = sched.Interval.String()
	st.PeriodicFired = sched.Fired
	st.LastPeriodicAt = sched.LastFireTime

	n, err := e.queue.Size(ctx)
	if err != nil {
		return st, err
	}
	st.Pending = n
	return st, nil
}

// MaxConcurrentDrains returns the highest number of drains ever active at
// once. It never exceeds 1.
func (e *Engine) MaxConcurrentDrains() int {
	return int(e.maxDrains.Load())
}

// Close stops the periodic trigger and the connectivity subscription, lets
// an in-flight drain stop at its next item boundary, then closes the loop
// and the stores.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var result *multierror.Error

		e.scheduler.Stop()
		e.monitor.Close()

		e.stopping.Store(true)
		if err := e.loop.Do(context.Background(), func() error {
			e.closing = true
			return nil
		}); err != nil {
			result = multierror.Append(result, err)
		}
		e.drainWG.Wait()

		e.loop.Close()

		for _, c := range e.closers {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}

		e.closeErr = result.ErrorOrNil()
		logging.Info("Sync engine closed", nil)
	})
	return e.closeErr
}

// onConnectivityChanged forwards transitions as events, ordered with the
// coordinator's own events.
func (e *Engine) onConnectivityChanged(oldOnline, newOnline bool) {
	e.loop.Post(func() {
		e.bus.Publish(events.ConnectivityChanged{Old: oldOnline, New: newOnline})
	})
}
