package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Awaitable is anything a task can suspend on. A fetch.Future satisfies it,
// as does any context.Context or another task's Handle via Done.
type Awaitable interface {
	// Done returns a channel that is closed when the awaited operation
	// has finished.
	Done() <-chan struct{}
}

// awaitable adapts a bare channel to the Awaitable interface.
type awaitable <-chan struct{}

func (a awaitable) Done() <-chan struct{} { return a }

// AwaitableChan wraps a channel so it can be passed to TaskContext.Await.
// The channel must be closed, not sent to, when the operation finishes.
func AwaitableChan(ch <-chan struct{}) Awaitable { return awaitable(ch) }

// TaskContext is passed to every task body. It carries the task's context,
// which ends on cancellation, timeout or scheduler shutdown, so bodies can
// hand it to any context-aware call.
type TaskContext struct {
	context.Context
	t *task
	s *Scheduler
}

// TaskID returns the identifier of the running task.
func (tc *TaskContext) TaskID() uint64 { return tc.t.id }

// Await suspends the task until w completes. While suspended the task keeps
// its concurrency slot but consumes no CPU. Await returns nil when w
// completed and the task may continue, or the task's terminal error when the
// task was cancelled or timed out while waiting; on a non-nil return the body
// should unwind promptly.
func (tc *TaskContext) Await(w Awaitable) error {
	if err := tc.suspend(); err != nil {
		return err
	}
	select {
	case <-w.Done():
		return tc.resume()
	case <-tc.Context.Done():
		return tc.interrupted()
	}
}

// Sleep suspends the task for at least d. It is Await over a timer and obeys
// the same cancellation rules.
func (tc *TaskContext) Sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-timer.C:
		case <-tc.Context.Done():
		}
	}()
	return tc.Await(awaitable(done))
}

func (tc *TaskContext) suspend() error {
	t := tc.t
	t.mu.Lock()
	if t.state.IsTerminal() {
		err := t.err
		t.mu.Unlock()
		return err
	}
	t.state = StateSuspended
	t.mu.Unlock()
	tc.s.rec.Inc(EventTaskSuspended)
	tc.s.logger.Debug("task suspended", slog.Uint64("task_id", t.id))
	return nil
}

func (tc *TaskContext) resume() error {
	t := tc.t
	t.mu.Lock()
	if t.state.IsTerminal() {
		err := t.err
		t.mu.Unlock()
		return err
	}
	t.state = StateRunning
	t.mu.Unlock()
	tc.s.rec.Inc(EventTaskResumed)
	tc.s.logger.Debug("task resumed", slog.Uint64("task_id", t.id))
	return nil
}

// interrupted reports why the wait ended early. The task stays SUSPENDED; the
// finalization path settles its terminal state once the body returns.
func (tc *TaskContext) interrupted() error {
	t := tc.t
	t.mu.Lock()
	if t.state.IsTerminal() {
		err := t.err
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return &TaskCancelledError{TaskID: t.id}
}
