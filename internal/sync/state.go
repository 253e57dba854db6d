package sync

import (
	"time"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/events"
)

// State is the coordinator state. Exactly one of Idle, Running, Completed,
// PartiallyCompleted or Errored.
type State interface {
	Name() string
	isState()
}

// Idle waits for a sync request.
type Idle struct{}

// Running holds the live session of the one active drain.
type Running struct {
	Session Session
}

// Completed is a drain that synced every snapshotted item.
type Completed struct {
	Session Session
}

// PartiallyCompleted is a drain that left items queued, either because
// they failed or because connectivity dropped mid-drain.
type PartiallyCompleted struct {
	Session     Session
	Interrupted bool
}

// Errored is a drain or initialization that failed as a whole.
type Errored struct {
	Reason string
}

func (Idle) Name() string               { return "idle" }
func (Running) Name() string            { return "running" }
func (Completed) Name() string          { return "completed" }
func (PartiallyCompleted) Name() string { return "partially_completed" }
func (Errored) Name() string            { return "error" }

func (Idle) isState()               {}
func (Running) isState()            {}
func (Completed) isState()          {}
func (PartiallyCompleted) isState() {}
func (Errored) isState()            {}

// Session is the bookkeeping of one drain. FailedIDs is an ordered set.
type Session struct {
	ID          string    `json:"id"`
	Automatic   bool      `json:"automatic"`
	TotalItems  int       `json:"total_items"`
	SyncedItems int       `json:"synced_items"`
	FailedIDs   []string  `json:"failed_ids"`
	LastFailure string    `json:"last_failure,omitempty"` // classified reason
	StartedAt   time.Time `json:"started_at"`
}

func (s Session) clone() Session {
	s.FailedIDs = append([]string(nil), s.FailedIDs...)
	return s
}

func (s *Session) addFailed(id string) {
	for _, f := range s.FailedIDs {
		if f == id {
			return
		}
	}
	s.FailedIDs = append(s.FailedIDs, id)
}

// input is something that happens to the coordinator.
type input interface {
	isInput()
}

type syncRequested struct {
	automatic bool
	online    bool
	ready     bool // initialized and not shutting down
	sessionID string
	at        time.Time
}

type snapshotTaken struct {
	total   int
	corrupt []string
}

type itemSynced struct {
	id string
}

type itemFailed struct {
	id     string
	reason string
}

type drainFinished struct {
	interrupted bool
	stopped     bool // interrupted by Close rather than connectivity
	err         error
}

type initFailed struct {
	err error
}

// settled returns a terminal state to Idle.
type settled struct{}

func (syncRequested) isInput() {}
func (snapshotTaken) isInput() {}
func (itemSynced) isInput()    {}
func (itemFailed) isInput()    {}
func (drainFinished) isInput() {}
func (initFailed) isInput()    {}
func (settled) isInput()       {}

// transition computes the next state and the events to emit. It has no
// side effects. A non-nil error means the input was rejected and the state
// is unchanged.
func transition(s State, in input) (State, []events.Event, error) {
	switch in := in.(type) {
	case syncRequested:
		if _, ok := s.(Running); ok {
			return s, nil, apperrors.New(apperrors.ErrSyncInProgress, "a drain is already running")
		}
		if !in.ready {
			return s, nil, apperrors.New(apperrors.ErrSyncNotInitialized, "engine is not initialized")
		}
		if !in.online {
			return s, nil, apperrors.New(apperrors.ErrSyncOffline, "engine is offline")
		}
		sess := Session{ID: in.sessionID, Automatic: in.automatic, StartedAt: in.at}
		return Running{Session: sess}, []events.Event{
			events.SyncStarted{SessionID: sess.ID, Automatic: sess.Automatic, StartedAt: sess.StartedAt},
		}, nil

	case snapshotTaken:
		r, ok := s.(Running)
		if !ok {
			return s, nil, errNotRunning
		}
		sess := r.Session.clone()
		sess.TotalItems = in.total
		for _, id := range in.corrupt {
			sess.addFailed(id)
		}
		if len(in.corrupt) > 0 {
			sess.LastFailure = apperrors.Reason(apperrors.New(apperrors.ErrContractViolation, ""))
		}
		return Running{Session: sess}, nil, nil

	case itemSynced:
		r, ok := s.(Running)
		if !ok {
			return s, nil, errNotRunning
		}
		sess := r.Session.clone()
		sess.SyncedItems++
		return Running{Session: sess}, []events.Event{
			events.SyncProgress{SessionID: sess.ID, Total: sess.TotalItems, Synced: sess.SyncedItems},
		}, nil

	case itemFailed:
		r, ok := s.(Running)
		if !ok {
			return s, nil, errNotRunning
		}
		sess := r.Session.clone()
		sess.addFailed(in.id)
		sess.LastFailure = in.reason
		return Running{Session: sess}, nil, nil

	case drainFinished:
		r, ok := s.(Running)
		if !ok {
			return s, nil, errNotRunning
		}
		sess := r.Session.clone()
		if in.err != nil {
			reason := apperrors.Reason(in.err)
			return Errored{Reason: reason}, []events.Event{events.SyncError{Reason: reason}}, nil
		}
		if len(sess.FailedIDs) == 0 && !in.interrupted {
			return Completed{Session: sess}, []events.Event{
				events.SyncCompleted{SessionID: sess.ID, Synced: sess.SyncedItems},
			}, nil
		}
		return PartiallyCompleted{Session: sess, Interrupted: in.interrupted}, []events.Event{
			events.SyncPartiallyCompleted{
				SessionID:   sess.ID,
				Synced:      sess.SyncedItems,
				FailedIDs:   append([]string{}, sess.FailedIDs...),
				Interrupted: in.interrupted,
			},
		}, nil

	case initFailed:
		if _, ok := s.(Running); ok {
			return s, nil, apperrors.New(apperrors.ErrSyncInProgress, "cannot fail initialization during a drain")
		}
		reason := apperrors.Reason(in.err)
		return Errored{Reason: reason}, []events.Event{events.SyncError{Reason: reason}}, nil

	case settled:
		switch s.(type) {
		case Completed, PartiallyCompleted, Errored:
			return Idle{}, nil, nil
		}
		return s, nil, nil
	}

	return s, nil, apperrors.New(apperrors.ErrInternal, "unknown coordinator input")
}

var errNotRunning = apperrors.New(apperrors.ErrInternal, "drain input received while not running")
