// Package connectivity tracks network reachability for the sync engine.
package connectivity

import (
	"context"
	"sort"
	"sync"
)

// Source reports reachability and notifies on every transition.
type Source interface {
	CurrentState(ctx context.Context) (online bool, err error)
	Subscribe(fn func(online bool)) (Subscription, error)
}

// Subscription is a handle returned by Source.Subscribe.
type Subscription interface {
	Cancel()
}

// subscribers is the callback registry shared by the Source implementations.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(bool)
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

func (s *subscribers) add(fn func(bool)) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	return &subscription{cancel: func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}}
}

func (s *subscribers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// notify calls every callback outside the lock, in subscription order.
func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	fns := make([]func(bool), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// ManualSource is a Source driven by Set. It backs tests and the CLI's
// --assume-online mode.
type ManualSource struct {
	mu      sync.Mutex
	online  bool
	initErr error
	subErr  error
	subs    subscribers
}

// NewManualSource creates a ManualSource in the given state.
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online}
}

// FailInit makes CurrentState and Subscribe return the given errors.
func (s *ManualSource) FailInit(stateErr, subscribeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = stateErr
	s.subErr = subscribeErr
}

func (s *ManualSource) CurrentState(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return false, s.initErr
	}
	return s.online, nil
}

func (s *ManualSource) Subscribe(fn func(online bool)) (Subscription, error) {
	s.mu.Lock()
	err := s.subErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.subs.add(fn), nil
}

// Set changes the state and notifies subscribers synchronously when it
// differs from the previous state.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.subs.notify(online)
	}
}

// Subscribers returns the number of live subscriptions.
func (s *ManualSource) Subscribers() int {
	return s.subs.count()
}
