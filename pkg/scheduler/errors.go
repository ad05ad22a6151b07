package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyRunning is returned by Run when another Run call is active on the
// same scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// TaskFailedError is the result error of a task whose work returned a non-nil
// error or panicked.
type TaskFailedError struct {
	TaskID uint64
	Err    error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %d failed: %v", e.TaskID, e.Err)
}

func (e *TaskFailedError) Unwrap() error { return e.Err }

// TaskTimedOutError is the result error of a task that exceeded the
// per-task execution budget.
type TaskTimedOutError struct {
	TaskID uint64
	Budget time.Duration
}

func (e *TaskTimedOutError) Error() string {
	return fmt.Sprintf("task %d exceeded execution budget of %s", e.TaskID, e.Budget)
}

// TaskCancelledError is the result error of a task that was cancelled, either
// explicitly via Cancel or because the scheduler shut down.
type TaskCancelledError struct {
	TaskID uint64
}

func (e *TaskCancelledError) Error() string {
	return fmt.Sprintf("task %d was cancelled", e.TaskID)
}
