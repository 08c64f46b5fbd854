package agent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSupervisorBusy is returned by Submit when a run is already in flight.
// The front-end collaborator is expected to queue or reject the utterance
// itself; the Supervisor never queues (spec §4.1).
var ErrSupervisorBusy = errors.New("supervisor: a run is already in progress")

// StuckWatcher observes a run that has exceeded its wall-clock budget
// before the Supervisor cancels it.
type StuckWatcher func()

// Supervisor owns the lifecycle of a single user Submit: it opens a fresh
// cancellation token per call, runs the ReAct loop under it, and guarantees
// cleanup regardless of outcome (spec §4.1). Re-entrancy is forbidden; a
// second Submit while one is in flight is rejected rather than queued,
// leaving queuing policy to the caller.
type Supervisor struct {
	mu      sync.Mutex
	loop    *Loop
	cancel  context.CancelFunc
	running bool

	// StuckAfter bounds how long a single Submit may run before the
	// Supervisor cancels it as stuck. Zero disables the watchdog.
	StuckAfter time.Duration

	// OnStuck is invoked, if set, when the watchdog fires.
	OnStuck StuckWatcher
}

// NewSupervisor wraps loop for single-flight, cancellable Submits.
func NewSupervisor(loop *Loop) *Supervisor {
	return &Supervisor{loop: loop}
}

// Submit runs one utterance to completion under a fresh CancellationToken,
// replacing any prior token so a stale Cancel can never leak into the next
// turn. It blocks until the loop reaches a terminal UiState.
func (s *Supervisor) Submit(ctx context.Context, utterance string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSupervisorBusy
	}

	runCtx := ctx
	var timeoutCancel context.CancelFunc
	if s.StuckAfter > 0 {
		runCtx, timeoutCancel = context.WithTimeout(runCtx, s.StuckAfter)
	}
	runCtx, cancel := context.WithCancel(runCtx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.running = false
		s.mu.Unlock()
		cancel()
		if timeoutCancel != nil {
			timeoutCancel()
		}
	}()

	err := s.loop.Run(runCtx, utterance)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && s.OnStuck != nil {
		s.OnStuck()
	}
	return err
}

// Cancel requests that the in-flight Submit, if any, terminate. It is
// idempotent and a no-op when no run is active (spec §4.1).
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Clear resets the Conversation and per-run working state, refusing while a
// run is in flight so it never races the loop's own memory writes.
func (s *Supervisor) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("supervisor: cannot clear while a run is in progress")
	}
	s.loop.Memory.Conversation.Clear()
	return nil
}

// ReloadConfig swaps the Loop's bounds (max steps, compaction threshold,
// tool policy) atomically with respect to Submit/Cancel/Clear.
func (s *Supervisor) ReloadConfig(cfg LoopConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop.Config = cfg
}

// Running reports whether a Submit is currently in flight.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
