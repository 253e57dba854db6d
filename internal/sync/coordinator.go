package sync

import (
	"context"
	"encoding/json"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/conflict"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/remote"
)

// Everything in this file that touches e.state, e.last or e.waiters runs on
// the engine loop. The drain itself runs on its own goroutine and reaches
// the loop through Post and the queue/cache managers.

// Outcome is the terminal result of one sync request.
type Outcome struct {
	State       string   `json:"state"`
	SessionID   string   `json:"session_id,omitempty"`
	Total       int      `json:"total"`
	Synced      int      `json:"synced"`
	FailedIDs   []string `json:"failed_ids,omitempty"`
	Interrupted bool     `json:"interrupted,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

type waiter struct {
	ch chan waitResult
}

type waitResult struct {
	outcome Outcome
	err     error
}

// apply runs one transition and publishes its events.
func (e *Engine) apply(in input) error {
	next, evs, err := transition(e.state, in)
	if err != nil {
		return err
	}
	if next.Name() != e.state.Name() {
		logging.Debug("Coordinator state changed",
			map[string]interface{}{"from": e.state.Name(), "to": next.Name()})
	}
	e.state = next
	for _, ev := range evs {
		e.bus.Publish(ev)
	}
	return nil
}

// handleSyncRequest decides whether a request starts a drain. Requests that
// arrive while a drain runs are discarded, not queued.
func (e *Engine) handleSyncRequest(automatic bool, w *waiter) {
	err := e.apply(syncRequested{
		automatic: automatic,
		online:    e.monitor.IsOnline(),
		ready:     !e.fatal && e.initErr == nil && !e.closing,
		sessionID: e.newSessionID(),
		at:        e.now(),
	})
	if err != nil {
		logging.Info("Sync request discarded",
			map[string]interface{}{
				"automatic": automatic,
				"reason":    apperrors.Reason(err),
				"state":     e.state.Name(),
			})
		if w != nil {
			w.ch <- waitResult{err: err}
		}
		return
	}

	if w != nil {
		e.waiters = append(e.waiters, w)
	}

	sess := e.state.(Running).Session
	if n := e.activeDrains.Add(1); n > e.maxDrains.Load() {
		e.maxDrains.Store(n)
	}
	e.drainWG.Add(1)

	logging.Info("Sync started",
		map[string]interface{}{"session_id": sess.ID, "automatic": automatic})

	go e.drain(sess.ID)
}

// finishDrain moves the coordinator to a terminal state, records it and
// returns to Idle.
func (e *Engine) finishDrain(in drainFinished) {
	e.activeDrains.Add(-1)

	if err := e.apply(in); err != nil {
		logging.Error("Drain finished outside running state", err)
		return
	}

	out := outcomeOf(e.state)
	e.last = &out
	switch e.state.(type) {
	case Completed:
		t := e.now()
		e.lastSuccess = &t
		e.lastReason = ""
	case PartiallyCompleted:
		e.lastReason = e.state.(PartiallyCompleted).Session.LastFailure
		switch {
		case in.stopped:
			e.lastReason = reasonFor(apperrors.ErrSyncStopped)
		case e.lastReason == "":
			e.lastReason = reasonFor(apperrors.ErrSyncOffline)
		}
	case Errored:
		e.lastReason = out.Reason
	}

	logging.Info("Sync finished",
		map[string]interface{}{
			"session_id": out.SessionID,
			"state":      out.State,
			"synced":     out.Synced,
			"failed":     len(out.FailedIDs),
		})

	var err error
	if errState, ok := e.state.(Errored); ok {
		err = apperrors.New(apperrors.ErrSyncFatal, "drain failed: "+errState.Reason)
	}
	for _, w := range e.waiters {
		w.ch <- waitResult{outcome: out, err: err}
	}
	e.waiters = nil

	_ = e.apply(settled{})

	if err := e.initErr; err != nil {
		if rerr := e.reportInitFailure(err); rerr != nil {
			logging.Error("Failed to report initialization failure", rerr)
		}
	}
}

func outcomeOf(s State) Outcome {
	switch st := s.(type) {
	case Completed:
		return Outcome{State: st.Name(), SessionID: st.Session.ID, Total: st.Session.TotalItems, Synced: st.Session.SyncedItems}
	case PartiallyCompleted:
		return Outcome{
			State:       st.Name(),
			SessionID:   st.Session.ID,
			Total:       st.Session.TotalItems,
			Synced:      st.Session.SyncedItems,
			FailedIDs:   append([]string(nil), st.Session.FailedIDs...),
			Interrupted: st.Interrupted,
		}
	case Errored:
		return Outcome{State: st.Name(), Reason: st.Reason}
	default:
		return Outcome{State: s.Name()}
	}
}

// post submits a drain input to the loop.
func (e *Engine) post(in input) {
	e.loop.Post(func() {
		if err := e.apply(in); err != nil {
			logging.Error("Drain input rejected", err)
		}
	})
}

// drain processes one snapshot. Only item boundaries are interruption
// points: an item whose remote call started runs to completion.
func (e *Engine) drain(sessionID string) {
	defer e.drainWG.Done()

	ctx := context.Background()
	finish := drainFinished{}
	defer func() {
		e.loop.Post(func() { e.finishDrain(finish) })
	}()

	snap, err := e.queue.DequeueAll(ctx)
	if err != nil {
		logging.ErrorWithCode("Failed to snapshot sync queue", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"session_id": sessionID})
		finish.err = err
		return
	}
	e.post(snapshotTaken{total: snap.Len(), corrupt: snap.Corrupt})

	for i, rec := range snap.Records {
		if !e.monitor.IsOnline() || e.stopping.Load() {
			logging.Info("Drain interrupted at item boundary",
				map[string]interface{}{
					"session_id": sessionID,
					"processed":  i,
					"remaining":  snap.Len() - i,
					"online":     e.monitor.IsOnline(),
					"stopping":   e.stopping.Load(),
				})
			finish.interrupted = true
			finish.stopped = e.stopping.Load()
			return
		}

		if reason, ok := e.syncItem(ctx, rec); ok {
			e.post(itemSynced{id: rec.ID})
		} else {
			e.recordFailure(ctx, rec, reason)
			e.post(itemFailed{id: rec.ID, reason: reason})
		}
	}
}

// syncItem applies one record. It returns ok when the record left the
// queue, otherwise the classified reason it stays.
func (e *Engine) syncItem(ctx context.Context, rec models.MutationRecord) (string, bool) {
	res := e.writer.Apply(ctx, remote.Mutation{ID: rec.ID, Payload: rec.Payload})

	if res.Kind == remote.Conflict {
		return e.resolveConflict(ctx, rec, res.Remote)
	}
	return e.settleResult(ctx, rec, res)
}

func (e *Engine) settleResult(ctx context.Context, rec models.MutationRecord, res remote.Result) (string, bool) {
	switch res.Kind {
	case remote.Success:
		if _, err := e.queue.Complete(ctx, rec); err != nil {
			// Applied remotely but still queued: it will be re-sent.
			logging.Error("Failed to remove synced mutation", err, map[string]interface{}{"id": rec.ID})
			return apperrors.Reason(err), false
		}
		return "", true
	case remote.Conflict:
		return reasonFor(apperrors.ErrSyncConflict), false
	case remote.TransientFailure:
		logging.Warn("Transient failure syncing mutation",
			map[string]interface{}{"id": rec.ID, "attempts": rec.SyncAttempts + 1})
		logging.Debug("Transient failure detail", map[string]interface{}{"id": rec.ID, "error": errText(res.Err)})
		return reasonFor(apperrors.ErrSyncTransient), false
	default:
		logging.ErrorWithCode("Remote rejected mutation", string(apperrors.ErrSyncFatal), res.Err,
			map[string]interface{}{"id": rec.ID})
		return reasonFor(apperrors.ErrSyncFatal), false
	}
}

func (e *Engine) resolveConflict(ctx context.Context, rec models.MutationRecord, remoteValue map[string]interface{}) (string, bool) {
	c := e.resolver.DetectConflict(rec.ID, rec.Payload, remoteValue)
	result, err := e.resolver.Resolve(c)
	if err != nil {
		logging.Warn("Conflict left unresolved",
			map[string]interface{}{"id": rec.ID, "conflict_id": c.ConflictID, "error": err.Error()})
		return reasonFor(apperrors.ErrSyncConflict), false
	}

	logging.Info("Conflict record",
		map[string]interface{}{
			"conflict": c.Record(),
			"strategy": string(result.Strategy),
		})

	switch result.Action {
	case conflict.ActionDiscard:
		data, err := json.Marshal(result.Remote)
		if err == nil {
			_, err = e.cache.Put(ctx, rec.ID, data)
		}
		if err != nil {
			logging.Error("Failed to cache remote value for discarded mutation", err,
				map[string]interface{}{"id": rec.ID})
			return apperrors.Reason(err), false
		}
		if _, err := e.queue.Complete(ctx, rec); err != nil {
			return apperrors.Reason(err), false
		}
		return "", true

	default:
		res := e.writer.Apply(ctx, remote.Mutation{ID: rec.ID, Payload: result.Payload, Overwrite: true})
		return e.settleResult(ctx, rec, res)
	}
}

func (e *Engine) recordFailure(ctx context.Context, rec models.MutationRecord, reason string) {
	if _, err := e.queue.RecordFailure(ctx, rec, reason); err != nil {
		logging.Error("Failed to record mutation failure", err, map[string]interface{}{"id": rec.ID})
	}
}

func reasonFor(code apperrors.ErrorCode) string {
	return apperrors.Reason(apperrors.New(code, ""))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
