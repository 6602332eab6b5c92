package stream

import (
	"context"
	"sync"
)

// Signal is the single process-wide change flag. Any stream event sets it;
// a consumer waits on it, drains whatever state it cares about, then
// clears it before waiting again. Sets between a wake and the clear
// coalesce into that one wake, so consumers must re-read all fields they
// care about rather than assume single-field deltas.
type Signal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set raises the flag and wakes all waiters. Idempotent while raised.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return
	}
	s.set = true
	close(s.ch)
}

// Clear lowers the flag. A subsequent Wait blocks until the next Set.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return
	}
	s.set = false
	s.ch = make(chan struct{})
}

func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait blocks until the flag is set or ctx is done. Returns immediately
// when the flag is already raised; never wakes spuriously.
func (s *Signal) Wait(ctx context.Context) error {
	s.mu.Lock()
	set, ch := s.set, s.ch
	s.mu.Unlock()

	if set {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
