package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mgrandl/pacer/pkg/metrics"
)

// Metric event names emitted through the Recorder.
const (
	EventTaskAdmitted  = "task_admitted"
	EventTaskStarted   = "task_started"
	EventTaskSuspended = "task_suspended"
	EventTaskResumed   = "task_resumed"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskCancelled = "task_cancelled"
	EventTaskTimedOut  = "task_timed_out"
	EventTaskDuration  = "task_duration"
)

// timeoutCheckInterval is how often Run compares active tasks against the
// execution budget. A task can therefore overrun its budget by at most one
// interval before it is finalized.
const timeoutCheckInterval = 20 * time.Millisecond

// Config holds the scheduler's admission and budget settings.
type Config struct {
	// MaxConcurrentTasks caps how many tasks may be admitted at once.
	// Zero means unbounded. Tasks beyond the cap wait in FIFO order.
	MaxConcurrentTasks int

	// MaxTaskExecution is the wall-clock budget per task, measured from
	// admission and including suspended time. Zero means no budget.
	MaxTaskExecution time.Duration
}

// Scheduler runs spawned tasks cooperatively: a single drive loop admits
// queued tasks, enforces the execution budget and settles results. Task
// bodies run on their own goroutines and yield through TaskContext.Await.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	rec    metrics.Recorder

	mu     sync.Mutex
	queue  []*task
	active map[uint64]*task

	nextID       atomic.Uint64
	running      atomic.Bool
	shuttingDown atomic.Bool

	// wake nudges the drive loop after Spawn, Cancel and finalization.
	wake chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used by the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithRecorder sets the metrics recorder used by the scheduler.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Scheduler) { s.rec = r }
}

// New creates a Scheduler with the given config. Negative limits are treated
// as zero.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.MaxConcurrentTasks < 0 {
		cfg.MaxConcurrentTasks = 0
	}
	if cfg.MaxTaskExecution < 0 {
		cfg.MaxTaskExecution = 0
	}
	s := &Scheduler{
		cfg:    cfg,
		logger: slog.Default(),
		rec:    metrics.Nop{},
		active: make(map[uint64]*task),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn queues work for execution and returns immediately. The task stays
// PENDING until a Run loop admits it; spawning never blocks on the
// concurrency limit.
func (s *Scheduler) Spawn(work Work) *Handle {
	t := &task{
		id:    s.nextID.Add(1),
		work:  work,
		state: StatePending,
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.queue = append(s.queue, t)
	queued := len(s.queue)
	s.mu.Unlock()

	s.logger.Debug("task spawned", slog.Uint64("task_id", t.id), slog.Int("queued", queued))
	s.signal()
	return &Handle{t: t}
}

// Cancel requests cancellation of a task. Pending tasks are finalized at the
// next scheduling opportunity without ever starting; admitted tasks have
// their context ended and settle as CANCELLED once their body returns.
// Cancelling a terminal task has no effect.
func (s *Scheduler) Cancel(h *Handle) {
	t := h.t
	if t.cancelRequested.Swap(true) {
		return
	}
	t.mu.Lock()
	cancel := t.cancel
	terminal := t.state.IsTerminal()
	t.mu.Unlock()
	if terminal {
		return
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Debug("task cancellation requested", slog.Uint64("task_id", t.id))
	s.signal()
}

// Stats returns the number of queued and admitted tasks.
func (s *Scheduler) Stats() (pending, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), len(s.active)
}

// Run drives the scheduler until every spawned task has settled, then
// returns nil. If ctx ends first, all pending tasks are finalized as
// CANCELLED, active tasks are asked to unwind, and Run returns ctx.Err()
// after their bodies have returned. Only one Run may be active at a time;
// tasks spawned after Run returns wait for the next Run.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	s.shuttingDown.Store(false)

	s.logger.Info("scheduler started",
		slog.Int("max_concurrent_tasks", s.cfg.MaxConcurrentTasks),
		slog.Duration("max_task_execution", s.cfg.MaxTaskExecution))

	var tickC <-chan time.Time
	if s.cfg.MaxTaskExecution > 0 {
		ticker := time.NewTicker(timeoutCheckInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		s.admit(ctx)
		if s.idle() {
			s.logger.Info("scheduler drained")
			return nil
		}
		select {
		case <-ctx.Done():
			return s.shutdown(ctx)
		case <-s.wake:
		case <-tickC:
			s.expireOverdue()
		}
	}
}

// admit moves tasks from the queue into execution until the concurrency
// limit is reached. Tasks cancelled while pending are finalized here without
// ever occupying a slot.
func (s *Scheduler) admit(runCtx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 ||
			(s.cfg.MaxConcurrentTasks > 0 && len(s.active) >= s.cfg.MaxConcurrentTasks) {
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if t.cancelRequested.Load() {
			s.finalize(t, StateCancelled, nil, &TaskCancelledError{TaskID: t.id})
			continue
		}

		t.mu.Lock()
		t.ctx, t.cancel = context.WithCancel(runCtx)
		t.state = StateRunning
		t.startedAt = time.Now()
		t.mu.Unlock()

		// Re-check after the context exists: a Cancel racing with this
		// admission may have found nothing to cancel yet.
		if t.cancelRequested.Load() {
			t.cancel()
		}

		s.mu.Lock()
		s.active[t.id] = t
		activeNow := len(s.active)
		s.mu.Unlock()

		s.rec.Inc(EventTaskAdmitted)
		s.logger.Debug("task admitted", slog.Uint64("task_id", t.id), slog.Int("active", activeNow))

		s.wg.Add(1)
		go s.runTask(t)
	}
}

// runTask executes one task body and settles its terminal state.
func (s *Scheduler) runTask(t *task) {
	defer s.wg.Done()

	s.rec.Inc(EventTaskStarted)
	s.logger.Debug("task started", slog.Uint64("task_id", t.id))

	res, err := s.invoke(t)

	// A dead task context means cancellation or shutdown got there first;
	// whatever the body returned is discarded.
	switch {
	case t.cancelRequested.Load() || s.shuttingDown.Load() || t.ctx.Err() != nil:
		s.finalize(t, StateCancelled, nil, &TaskCancelledError{TaskID: t.id})
	case err != nil:
		s.finalize(t, StateFailed, nil, &TaskFailedError{TaskID: t.id, Err: err})
	default:
		s.finalize(t, StateCompleted, res, nil)
	}
}

// invoke runs the task body, converting a panic into an error so one task
// can never take down the drive loop.
func (s *Scheduler) invoke(t *task) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("task panicked",
				slog.Uint64("task_id", t.id),
				slog.String("correlation_id", correlationID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v (correlation_id: %s)", r, correlationID)
		}
	}()
	tc := &TaskContext{Context: t.ctx, t: t, s: s}
	return t.work(tc)
}

// expireOverdue finalizes every admitted task whose wall time exceeds the
// execution budget. The task's context is ended so a suspended body unwinds;
// whatever it returns afterwards is discarded.
func (s *Scheduler) expireOverdue() {
	now := time.Now()
	s.mu.Lock()
	var overdue []*task
	for _, t := range s.active {
		if now.Sub(t.startedAt) > s.cfg.MaxTaskExecution {
			overdue = append(overdue, t)
		}
	}
	s.mu.Unlock()

	for _, t := range overdue {
		if s.finalize(t, StateTimedOut, nil, &TaskTimedOutError{TaskID: t.id, Budget: s.cfg.MaxTaskExecution}) {
			s.logger.Warn("task exceeded execution budget",
				slog.Uint64("task_id", t.id),
				slog.Duration("budget", s.cfg.MaxTaskExecution))
		}
	}
}

// finalize moves a task to a terminal state exactly once, releasing its slot
// and closing its done channel. It reports false if the task was already
// terminal, in which case the given outcome is discarded.
func (s *Scheduler) finalize(t *task, st State, res any, err error) bool {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		return false
	}
	t.state = st
	t.result = res
	t.err = err
	startedAt := t.startedAt
	cancel := t.cancel
	close(t.done)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	delete(s.active, t.id)
	s.mu.Unlock()

	s.rec.Inc(terminalEvent(st))
	if !startedAt.IsZero() {
		s.rec.Observe(EventTaskDuration, time.Since(startedAt))
	}
	s.logger.Debug("task finished", slog.Uint64("task_id", t.id), slog.String("state", string(st)))
	s.signal()
	return true
}

// shutdown cancels everything still in flight and waits for task bodies to
// return. Pending tasks settle as CANCELLED without running.
func (s *Scheduler) shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	actives := make([]*task, 0, len(s.active))
	for _, t := range s.active {
		actives = append(actives, t)
	}
	s.mu.Unlock()

	s.logger.Info("scheduler shutting down",
		slog.Int("pending_tasks", len(pending)),
		slog.Int("active_tasks", len(actives)))

	for _, t := range pending {
		s.finalize(t, StateCancelled, nil, &TaskCancelledError{TaskID: t.id})
	}
	for _, t := range actives {
		t.mu.Lock()
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && len(s.active) == 0
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func terminalEvent(st State) string {
	switch st {
	case StateCompleted:
		return EventTaskCompleted
	case StateFailed:
		return EventTaskFailed
	case StateCancelled:
		return EventTaskCancelled
	case StateTimedOut:
		return EventTaskTimedOut
	}
	return ""
}
