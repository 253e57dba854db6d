package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWriter struct {
	calls  int
	result Result
}

func (w *countingWriter) Apply(ctx context.Context, m Mutation) Result {
	w.calls++
	return w.result
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "conflict", Conflict.String())
	assert.Equal(t, "transient", TransientFailure.String())
	assert.Equal(t, "fatal", FatalFailure.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestFunc_Apply(t *testing.T) {
	var got Mutation
	w := Func(func(ctx context.Context, m Mutation) Result {
		got = m
		return Conflicted(map[string]interface{}{"v": 2})
	})

	res := w.Apply(context.Background(), Mutation{ID: "A", Overwrite: true})
	assert.Equal(t, Conflict, res.Kind)
	assert.Equal(t, 2, res.Remote["v"])
	assert.Equal(t, "A", got.ID)
	assert.True(t, got.Overwrite)
}

func TestRateLimited_DisabledReturnsNext(t *testing.T) {
	next := &countingWriter{result: Succeeded()}
	assert.Same(t, next, NewRateLimited(next, 0, 1))
}

func TestRateLimited_Forwards(t *testing.T) {
	next := &countingWriter{result: Succeeded()}
	w := NewRateLimited(next, 1000, 10)

	for i := 0; i < 5; i++ {
		assert.Equal(t, Success, w.Apply(context.Background(), Mutation{ID: "A"}).Kind)
	}
	assert.Equal(t, 5, next.calls)
}

func TestRateLimited_CancelledWaitIsTransient(t *testing.T) {
	next := &countingWriter{result: Succeeded()}
	w := NewRateLimited(next, 0.001, 1)

	// First call consumes the only token.
	require.Equal(t, Success, w.Apply(context.Background(), Mutation{ID: "A"}).Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := w.Apply(ctx, Mutation{ID: "B"})
	assert.Equal(t, TransientFailure, res.Kind)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, next.calls)
}

func TestBreaker_OpensAfterConsecutiveTransientFailures(t *testing.T) {
	next := &countingWriter{result: Transient(errors.New("503"))}
	b := NewBreaker(next, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		assert.Equal(t, TransientFailure, b.Apply(context.Background(), Mutation{ID: "A"}).Kind)
	}
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, "open", b.State())

	res := b.Apply(context.Background(), Mutation{ID: "B"})
	assert.Equal(t, TransientFailure, res.Kind)
	assert.Equal(t, 3, next.calls, "open breaker must not call the remote")
}

func TestBreaker_ConflictAndFatalDoNotTrip(t *testing.T) {
	next := &countingWriter{result: Fatal(errors.New("403"))}
	b := NewBreaker(next, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Hour})

	for i := 0; i < 5; i++ {
		assert.Equal(t, FatalFailure, b.Apply(context.Background(), Mutation{ID: "A"}).Kind)
	}
	next.result = Conflicted(map[string]interface{}{})
	for i := 0; i < 5; i++ {
		res := b.Apply(context.Background(), Mutation{ID: "A"})
		assert.Equal(t, Conflict, res.Kind)
	}
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, 10, next.calls)
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(&countingWriter{result: Succeeded()}, BreakerConfig{})
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, Success, b.Apply(context.Background(), Mutation{ID: "A"}).Kind)
}
