// Package remote defines the Remote Write contract the coordinator drains
// mutations through, plus decorators that bound load on the remote.
package remote

import (
	"context"
)

// Kind classifies the outcome of one remote write.
type Kind int

const (
	Success Kind = iota
	Conflict
	TransientFailure
	FatalFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	case TransientFailure:
		return "transient"
	case FatalFailure:
		return "fatal"
	default:
		return "unknown"
	}
}

// Mutation is one queued write handed to the remote.
type Mutation struct {
	ID      string
	Payload map[string]interface{}
	// Overwrite is set when re-sending after a conflict was resolved in
	// favor of a local or merged payload.
	Overwrite bool
}

// Result is the outcome of Apply. Remote is set for Conflict. Err carries
// diagnostic detail for logs only.
type Result struct {
	Kind   Kind
	Remote map[string]interface{}
	Err    error
}

// Succeeded returns a Success result.
func Succeeded() Result { return Result{Kind: Success} }

// Conflicted returns a Conflict result carrying the remote value.
func Conflicted(remote map[string]interface{}) Result {
	return Result{Kind: Conflict, Remote: remote}
}

// Transient returns a retryable failure.
func Transient(err error) Result { return Result{Kind: TransientFailure, Err: err} }

// Fatal returns a non-retryable failure for this mutation.
func Fatal(err error) Result { return Result{Kind: FatalFailure, Err: err} }

// Writer applies one mutation to the remote system. Apply blocks until the
// remote answers; it is never cancelled mid-call by the coordinator.
type Writer interface {
	Apply(ctx context.Context, m Mutation) Result
}

// Func adapts a function to Writer.
type Func func(ctx context.Context, m Mutation) Result

// Apply calls f.
func (f Func) Apply(ctx context.Context, m Mutation) Result {
	return f(ctx, m)
}
