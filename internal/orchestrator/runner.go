package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/agentrun/internal/task"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many tasks run concurrently
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// StuckTaskAge defines how long a task can sit PENDING or RUNNING without
	// progress before the monitor resubmits it
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stuck tasks
	// If zero, defaults to 5 minutes
	StuckTaskCheckInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:            8,
		QueueSize:              500,
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: 5 * time.Minute,
	}
}

type queuedTask struct {
	taskID string
	tc     *task.TaskContext
}

// Runner feeds submitted and recovered tasks to an Orchestrator through a
// bounded queue served by a fixed pool of workers.
type Runner struct {
	orchestrator *Orchestrator
	store        task.TaskStateRepository
	taskChan     chan queuedTask
	ctx          context.Context
	cancelFunc   context.CancelFunc
	quit         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	config       RunnerConfig
	logger       *slog.Logger
	errHandler   func(taskID string, err error)
	now          func() time.Time
}

// NewRunner creates a new Runner
func NewRunner(
	orchestrator *Orchestrator,
	store task.TaskStateRepository,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	defaults := DefaultRunnerConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = defaults.StuckTaskAge
	}
	if config.StuckTaskCheckInterval <= 0 {
		config.StuckTaskCheckInterval = defaults.StuckTaskCheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With(slog.String("component", "task_runner"))

	return &Runner{
		orchestrator: orchestrator,
		store:        store,
		taskChan:     make(chan queuedTask, config.QueueSize),
		ctx:          ctx,
		cancelFunc:   cancel,
		quit:         make(chan struct{}),
		config:       config,
		logger:       logger,
		errHandler: func(taskID string, err error) {
			// Default error handler just logs the error
			logger.Error("task execution failed", "task_id", taskID, "error", err)
		},
		now: time.Now,
	}
}

// SetErrorHandler allows setting a custom error handler function
func (r *Runner) SetErrorHandler(handler func(taskID string, err error)) {
	r.errHandler = handler
}

// Submit validates a submission, persists it as a PENDING task and queues it.
// When the queue is full the persisted task is removed again and ErrQueueFull
// is returned, so the caller can retry with the same id. If that removal
// fails the task stays PENDING for the stuck-task monitor and Submit reports
// success.
func (r *Runner) Submit(ctx context.Context, taskID string, sub task.Submission) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	select {
	case <-r.quit:
		return ErrRunnerStopped
	default:
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	tc := sub.ToContext(taskID)
	sm := task.NewTaskStateMachine(taskID, tc)
	if err := r.store.Save(ctx, sm); err != nil {
		if errors.Is(err, task.ErrVersionConflict) {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, taskID)
		}
		return fmt.Errorf("failed to save task: %w", err)
	}

	if err := r.enqueue(queuedTask{taskID: taskID, tc: tc}); err != nil {
		if delErr := r.store.Delete(ctx, taskID); delErr != nil {
			r.logger.WarnContext(ctx, "queue full and task could not be withdrawn, deferring to stuck-task monitor",
				"task_id", taskID,
				"error", delErr)
			return nil
		}
		return err
	}

	r.logger.InfoContext(ctx, "task submitted", "task_id", taskID, "task_type", sub.TaskType)
	return nil
}

// Cancel cancels a queued or running task.
func (r *Runner) Cancel(ctx context.Context, taskID string) error {
	return r.orchestrator.Cancel(ctx, taskID)
}

func (r *Runner) enqueue(q queuedTask) error {
	select {
	case r.taskChan <- q:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start recovers unfinished tasks and begins processing
func (r *Runner) Start() error {
	if err := r.Recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.stuckTaskMonitor()

	return nil
}

// Stop stops accepting work and waits for running tasks to return. When ctx
// expires first, running tasks are interrupted; their state stays RUNNING and
// is resumed by the next process.
func (r *Runner) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.quit) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancelFunc()
		return nil
	case <-ctx.Done():
		r.logger.Warn("shutdown deadline reached, interrupting running tasks")
		r.cancelFunc()
		<-done
		return ctx.Err()
	}
}

// Recover queues every PENDING or RUNNING task found in the store. RUNNING
// tasks were interrupted by a previous process and resume where they stopped.
func (r *Runner) Recover() error {
	ctx := r.ctx

	states, _, err := r.store.List(ctx, task.ListFilter{
		Statuses: []task.TaskStatus{task.TaskStatusPending, task.TaskStatusRunning},
	})
	if err != nil {
		return fmt.Errorf("failed to list unfinished tasks: %w", err)
	}

	pending, running := 0, 0
	for _, sm := range states {
		if sm.Status == task.TaskStatusRunning {
			running++
		} else {
			pending++
		}
		if err := r.enqueue(queuedTask{taskID: sm.TaskID}); err != nil {
			r.logger.Error("failed to requeue unfinished task, queue is full",
				"task_id", sm.TaskID,
				"status", sm.Status)
		}
	}

	r.logger.Info("recovered unfinished tasks",
		"pending_count", pending,
		"running_count", running)
	return nil
}

// worker processes tasks from the queue
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.quit:
			r.logger.Debug("stopping worker", "worker_id", id)
			return
		case <-r.ctx.Done():
			return
		case q := <-r.taskChan:
			r.processTask(q, id)
		}
	}
}

func (r *Runner) processTask(q queuedTask, workerID int) {
	logger := r.logger.With("task_id", q.taskID, "worker_id", workerID)
	logger.Debug("processing task")

	err := r.orchestrator.Run(r.ctx, q.taskID, q.tc)
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskInFlight):
		logger.Debug("task already running, skipping duplicate queue entry")
	case errors.Is(err, ErrTaskTerminal):
		logger.Info("task finished before it was picked up", "error", err)
	default:
		r.errHandler(q.taskID, err)
	}
}

// stuckTaskMonitor periodically resubmits tasks that made no progress for
// StuckTaskAge and purges expired state from stores that need it.
func (r *Runner) stuckTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.checkStuckTasks(r.ctx)
		}
	}
}

func (r *Runner) checkStuckTasks(ctx context.Context) {
	stuck, _, err := r.store.List(ctx, task.ListFilter{
		Statuses:      []task.TaskStatus{task.TaskStatusPending, task.TaskStatusRunning},
		UpdatedBefore: r.now().Add(-r.config.StuckTaskAge),
	})
	if err != nil {
		r.logger.Error("failed to check for stuck tasks", "error", err)
		return
	}

	requeued := 0
	for _, sm := range stuck {
		if r.orchestrator.IsRunning(sm.TaskID) {
			continue
		}
		if err := r.enqueue(queuedTask{taskID: sm.TaskID}); err != nil {
			r.logger.Error("failed to requeue stuck task, queue is full", "task_id", sm.TaskID)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		r.logger.Info("requeued stuck tasks", "count", requeued)
	}

	if purger, ok := r.store.(task.ExpiredStatePurger); ok {
		purged, err := purger.PurgeExpired(ctx)
		if err != nil {
			r.logger.Warn("failed to purge expired task state", "error", err)
		} else if purged > 0 {
			r.logger.Info("purged expired task state", "count", purged)
		}
	}
}
