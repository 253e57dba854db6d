// Package conflict resolves divergence between a queued local mutation and
// the remote value it was meant to replace.
//
// The strategy is always chosen by the caller, per conflict. Nothing here
// picks a winner on its own; a conflict without a strategy stays unresolved.
package conflict

import (
	"errors"
	"time"

	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/uuid"
)

// ResolutionStrategy defines how a conflict is resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyUseLocal  ResolutionStrategy = "use_local"
	ResolutionStrategyUseRemote ResolutionStrategy = "use_remote"
	ResolutionStrategyMerge     ResolutionStrategy = "merge"
)

// MergeFunc combines local and remote payloads into the payload to send.
type MergeFunc func(local, remote map[string]interface{}) (map[string]interface{}, error)

// Choice is the caller's decision for one conflict. The zero Choice means
// no strategy was supplied.
type Choice struct {
	Strategy ResolutionStrategy
	Merge    MergeFunc
}

// UseLocal re-sends the local payload over the remote value.
func UseLocal() Choice { return Choice{Strategy: ResolutionStrategyUseLocal} }

// UseRemote discards the local mutation and keeps the remote value.
func UseRemote() Choice { return Choice{Strategy: ResolutionStrategyUseRemote} }

// Merge sends the result of fn.
func Merge(fn MergeFunc) Choice { return Choice{Strategy: ResolutionStrategyMerge, Merge: fn} }

// Policy selects a Choice for a detected conflict.
type Policy func(c *Conflict) Choice

// Action tells the coordinator what to do after resolution.
type Action int

const (
	// ActionSend re-sends ResolveResult.Payload with overwrite semantics.
	ActionSend Action = iota
	// ActionDiscard drops the local mutation without a remote write.
	ActionDiscard
)

func (a Action) String() string {
	switch a {
	case ActionSend:
		return "send"
	case ActionDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Conflict represents a detected divergence for one mutation.
type Conflict struct {
	ConflictID string
	ItemID     string
	Local      map[string]interface{}
	Remote     map[string]interface{}
	DetectedAt time.Time
}

// Record returns the log form of the conflict.
func (c *Conflict) Record() models.ConflictRecord {
	return models.ConflictRecord{
		ConflictID: c.ConflictID,
		MutationID: c.ItemID,
		Local:      c.Local,
		Remote:     c.Remote,
		DetectedAt: c.DetectedAt,
	}
}

// ResolveResult represents the outcome of conflict resolution.
type ResolveResult struct {
	Action   Action
	Payload  map[string]interface{} // set for ActionSend
	Remote   map[string]interface{}
	Strategy ResolutionStrategy
}

// Resolver applies a caller Policy to conflicts.
type Resolver struct {
	policy Policy
	now    func() time.Time
}

// NewResolver creates a Resolver. A nil policy leaves every conflict unresolved.
func NewResolver(policy Policy) *Resolver {
	return &Resolver{
		policy: policy,
		now:    time.Now,
	}
}

// DetectConflict builds a Conflict for a mutation the remote rejected.
func (r *Resolver) DetectConflict(itemID string, local, remote map[string]interface{}) *Conflict {
	c := &Conflict{
		ConflictID: uuid.New(),
		ItemID:     itemID,
		Local:      models.ClonePayload(local),
		Remote:     models.ClonePayload(remote),
		DetectedAt: r.now(),
	}

	logging.Warn("Concurrent edit conflict detected",
		map[string]interface{}{
			"item_id":     itemID,
			"conflict_id": c.ConflictID,
		})

	return c
}

// Resolve asks the policy for a Choice and applies it.
func (r *Resolver) Resolve(c *Conflict) (*ResolveResult, error) {
	if r.policy == nil {
		return nil, ErrConflictUnresolved
	}
	return ResolveWith(c, r.policy(c))
}

// ResolveWith applies choice to c.
func ResolveWith(c *Conflict, choice Choice) (*ResolveResult, error) {
	if c == nil {
		return nil, ErrInvalidConflict
	}

	var result *ResolveResult
	switch choice.Strategy {
	case ResolutionStrategyUseLocal:
		result = &ResolveResult{
			Action:  ActionSend,
			Payload: models.ClonePayload(c.Local),
		}
	case ResolutionStrategyUseRemote:
		result = &ResolveResult{
			Action: ActionDiscard,
		}
	case ResolutionStrategyMerge:
		if choice.Merge == nil {
			return nil, ErrMergeFuncMissing
		}
		merged, err := choice.Merge(models.ClonePayload(c.Local), models.ClonePayload(c.Remote))
		if err != nil {
			return nil, &ConflictError{Message: "merge failed", Err: err}
		}
		if merged == nil {
			return nil, ErrMergeEmpty
		}
		result = &ResolveResult{
			Action:  ActionSend,
			Payload: merged,
		}
	case "":
		return nil, ErrConflictUnresolved
	default:
		return nil, &ConflictError{Message: "unknown strategy: " + string(choice.Strategy)}
	}

	result.Strategy = choice.Strategy
	result.Remote = models.ClonePayload(c.Remote)

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"item_id":     c.ItemID,
			"conflict_id": c.ConflictID,
			"strategy":    string(choice.Strategy),
			"action":      result.Action.String(),
		})

	return result, nil
}

// Errors
var (
	ErrInvalidConflict    = &ConflictError{Message: "invalid conflict"}
	ErrConflictUnresolved = &ConflictError{Message: "conflict could not be resolved: no strategy supplied"}
	ErrMergeFuncMissing   = &ConflictError{Message: "merge strategy requires a merge function"}
	ErrMergeEmpty         = &ConflictError{Message: "merge function returned no payload"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
