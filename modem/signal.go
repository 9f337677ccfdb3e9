package modem

import (
	"context"
	"sync"
	"time"
)

// signal is a level-triggered event: Set latches it, Clear re-arms it, and
// Wait blocks until it is set or the deadline passes. Unlike a bare channel
// it can be cleared and reused, which the submission handshake relies on
// (clear before sending, clear again after, so a stale acknowledgement can
// never be misread as success for a later submission).
type signal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// Set latches the signal and unblocks all waiters. Setting an already-set
// signal is a no-op.
func (s *signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return
	}
	s.set = true
	close(s.ch)
}

// Clear re-arms the signal.
func (s *signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return
	}
	s.set = false
	s.ch = make(chan struct{})
}

// IsSet reports whether the signal is currently latched.
func (s *signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait blocks until the signal is set, the timeout elapses, or the context
// is done. A timeout is reported as ErrSubmissionTimeout.
func (s *signal) Wait(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return ErrSubmissionTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
