package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the states a task can be in.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSuspended State = "SUSPENDED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StateTimedOut  State = "TIMED_OUT"
)

// IsTerminal returns true if no further state transitions are possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Work is the computation a task executes. It receives a TaskContext whose
// embedded context ends when the task is cancelled, times out, or the
// scheduler shuts down. The returned value and error are captured on the
// task's result slot; neither is ever propagated into the drive loop.
type Work func(tc *TaskContext) (any, error)

// task is the scheduler-internal representation of one unit of work. Its
// state is mutated only by the drive loop, the finalization path, and the
// task's own cooperative suspension points.
type task struct {
	id   uint64
	work Work

	mu        sync.Mutex
	state     State
	result    any
	err       error
	startedAt time.Time // set at admission; zero while PENDING

	// done closes exactly once, when the task reaches a terminal state.
	done chan struct{}

	// ctx/cancel exist from admission onward. Cancelling is how the
	// scheduler asks a body to unwind; it never preempts.
	ctx    context.Context
	cancel context.CancelFunc

	cancelRequested atomic.Bool
}

// snapshot returns the current state and result slot under the task lock.
func (t *task) snapshot() (State, any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.result, t.err
}

// Handle is the caller's view of a spawned task. All methods are safe for
// concurrent use. The result slot is populated once Done is closed.
type Handle struct {
	t *task
}

// ID returns the task's identifier. IDs increase monotonically per scheduler.
func (h *Handle) ID() uint64 { return h.t.id }

// State returns the task's current state.
func (h *Handle) State() State {
	st, _, _ := h.t.snapshot()
	return st
}

// Done returns a channel closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Result returns the task's result slot without blocking. Before the task is
// terminal both values are zero; poll State or Done first, or use Wait.
func (h *Handle) Result() (any, error) {
	_, res, err := h.t.snapshot()
	return res, err
}

// Wait blocks until the task is terminal or ctx ends. On terminal it returns
// the result slot: the work's value on COMPLETED, a typed *TaskFailedError,
// *TaskTimedOutError or *TaskCancelledError otherwise.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.t.done:
		_, res, err := h.t.snapshot()
		return res, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
