// Package actor provides the single sequential event queue that every engine
// state change and store access runs on.
//
// Callers from any goroutine submit work with Post (fire and forget) or Do
// (wait for the result). Work items run one at a time, in submission order,
// on the loop goroutine, so two submissions never interleave.
//
// Work running on the loop must not call Do on the same loop: it would wait
// for itself. Use Post for follow-up work instead.
package actor

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted to a closed loop.
var ErrClosed = errors.New("actor loop closed")

// Loop is an unbounded FIFO of work items drained by one goroutine.
type Loop struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wakeups
	done   chan struct{}
}

// New creates a loop and starts its goroutine.
func New() *Loop {
	l := &Loop{
		items:  make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn without waiting. Returns false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	l.items = append(l.items, fn)

	select {
	case l.signal <- struct{}{}:
	default:
	}

	return true
}

// Do runs fn on the loop and waits for its error. If ctx ends first Do
// returns ctx.Err(); fn still runs later, in order.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The loop may have run fn just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops accepting work. Items already queued still run; Close waits
// for them.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.signal)
	}
	l.mu.Unlock()

	<-l.done
}

// Len returns the number of queued, not yet started, work items.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		fn, ok := l.next()
		if ok {
			fn()
			continue
		}

		if _, open := <-l.signal; !open {
			// Closed: run whatever was queued before Close.
			for {
				fn, ok := l.next()
				if !ok {
					return
				}
				fn()
			}
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.items) == 0 {
		return nil, false
	}

	fn := l.items[0]
	l.items[0] = nil
	if len(l.items) == 1 {
		l.items = l.items[:0]
	} else {
		l.items = l.items[1:]
	}
	return fn, true
}
