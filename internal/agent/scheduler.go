package agent

import "context"

// DefaultMaxParallelTools bounds concurrent foreground tool executions
// unless a config overrides it (spec §4.2).
const DefaultMaxParallelTools = 3

// Scheduler is a counting gate over tool executions. A ReAct step acquires
// a permit before dispatching to the Registry and releases it when the
// tool returns or times out. Background tasks (vector-snapshot flush,
// memory consolidation) run on a separate, unbounded track and never
// contend with foreground tool permits.
type Scheduler struct {
	foreground chan struct{}
}

// NewScheduler creates a Scheduler with maxParallelTools foreground permits.
// maxParallelTools <= 0 falls back to DefaultMaxParallelTools.
func NewScheduler(maxParallelTools int) *Scheduler {
	if maxParallelTools <= 0 {
		maxParallelTools = DefaultMaxParallelTools
	}
	return &Scheduler{foreground: make(chan struct{}, maxParallelTools)}
}

// AcquireForeground blocks until a foreground permit is available or ctx is
// done, whichever comes first. The returned release function must be called
// exactly once, only after a successful (nil-error) acquire.
func (s *Scheduler) AcquireForeground(ctx context.Context) (release func(), err error) {
	select {
	case s.foreground <- struct{}{}:
		return func() { <-s.foreground }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunBackground runs fn on its own goroutine, outside the foreground permit
// pool, matching the unbounded background track the spec requires for
// snapshot flush and memory consolidation.
func (s *Scheduler) RunBackground(fn func()) {
	go fn()
}
