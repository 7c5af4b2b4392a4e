package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phrazzld/agentrun/internal/task"
)

const tracerName = "github.com/phrazzld/agentrun/internal/orchestrator"

// Config holds the scheduling settings of an Orchestrator.
type Config struct {
	// StepOrder is the linear sequence of step names run for every task.
	StepOrder []string

	// MaxConcurrentSteps sizes the default PermitPool.
	MaxConcurrentSteps int

	// StepTimeout bounds a single executor call. Zero disables it.
	StepTimeout time.Duration

	// PermitTimeout bounds the wait for a backpressure permit. Zero waits
	// until the task's context is done.
	PermitTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		StepOrder:          append([]string(nil), task.DefaultStepOrder...),
		MaxConcurrentSteps: DefaultMaxConcurrentSteps,
		StepTimeout:        10 * time.Minute,
		PermitTimeout:      5 * time.Minute,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPermitPool shares an existing pool instead of creating one from Config.
func WithPermitPool(p *PermitPool) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.permits = p
		}
	}
}

// WithMetrics sets the sink for timing and counter events.
func WithMetrics(m MetricsSink) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithQualityGate reviews content-producing steps.
func WithQualityGate(g QualityGate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithCompletionNotifier reports tasks reaching a terminal state.
func WithCompletionNotifier(n CompletionNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Orchestrator runs tasks through the configured step order.
type Orchestrator struct {
	registry      *task.Registry
	order         []string
	store         task.TaskStateStore
	permits       *PermitPool
	metrics       MetricsSink
	gate          QualityGate
	notifier      CompletionNotifier
	tracer        trace.Tracer
	logger        *slog.Logger
	stepTimeout   time.Duration
	permitTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc
	wg       sync.WaitGroup
}

// New creates an Orchestrator. Every name in cfg.StepOrder must have a
// matching executor.
func New(
	cfg Config,
	executors []task.StepExecutor,
	store task.TaskStateStore,
	logger *slog.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	registry, err := task.NewRegistry(executors...)
	if err != nil {
		return nil, fmt.Errorf("failed to register step executors: %w", err)
	}

	order := cfg.StepOrder
	if len(order) == 0 {
		order = task.DefaultStepOrder
	}
	for _, name := range order {
		if _, ok := registry.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
		}
	}

	o := &Orchestrator{
		registry:      registry,
		order:         append([]string(nil), order...),
		store:         store,
		metrics:       NoopMetrics{},
		tracer:        otel.Tracer(tracerName),
		logger:        logger.With(slog.String("component", "orchestrator")),
		stepTimeout:   cfg.StepTimeout,
		permitTimeout: cfg.PermitTimeout,
		inflight:      make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.permits == nil {
		o.permits = NewPermitPool(cfg.MaxConcurrentSteps)
	}
	return o, nil
}

// StepOrder returns the configured step sequence.
func (o *Orchestrator) StepOrder() []string {
	return append([]string(nil), o.order...)
}

// Permits returns the pool gating step execution.
func (o *Orchestrator) Permits() *PermitPool {
	return o.permits
}

// ExecuteTask runs the task on its own goroutine and returns a handle to its
// outcome. ctx bounds the whole task, not just the call.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string, tc *task.TaskContext) *Handle {
	h := newHandle(taskID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		h.finish(o.Run(ctx, taskID, tc))
	}()
	return h
}

// Wait blocks until every task started with ExecuteTask has returned, or ctx
// is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether taskID is executing in this process.
func (o *Orchestrator) IsRunning(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[taskID]
	return ok
}

// Cancel stops a task. A task running in this process is interrupted and
// marked CANCELLED by its own goroutine; otherwise the persisted state is
// marked CANCELLED directly.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	o.mu.Lock()
	cancel, running := o.inflight[taskID]
	o.mu.Unlock()
	if running {
		o.logger.InfoContext(ctx, "cancelling running task", "task_id", taskID)
		cancel(ErrTaskCancelled)
		return nil
	}

	sm, err := o.store.Load(ctx, taskID)
	if err != nil {
		return err
	}
	if err := sm.MarkCancelled(); err != nil {
		return fmt.Errorf("%w: %v", ErrTaskTerminal, err)
	}
	if err := o.store.Save(ctx, sm); err != nil {
		return fmt.Errorf("failed to save cancelled task %s: %w", taskID, err)
	}
	o.logger.InfoContext(ctx, "cancelled queued task", "task_id", taskID)
	o.finishTask(ctx, sm, StatusCancelled, time.Duration(0))
	return nil
}

// Run executes a task synchronously.
//
// A persisted, unfinished state for taskID takes precedence over tc and the
// task resumes at its first unexecuted step. A COMPLETED task returns nil
// without running anything.
func (o *Orchestrator) Run(ctx context.Context, taskID string, tc *task.TaskContext) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	if !o.track(taskID, cancel) {
		cancel(nil)
		return fmt.Errorf("%w: %s", ErrTaskInFlight, taskID)
	}
	defer func() {
		o.untrack(taskID)
		cancel(nil)
	}()

	start := time.Now()
	logger := o.logger.With(slog.String("task_id", taskID))
	runCtx, span := o.tracer.Start(runCtx, "orchestrator.task",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	sm, done, err := o.prepare(runCtx, taskID, tc, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if done {
		return nil
	}

	if err := o.runSteps(runCtx, sm, logger); err != nil {
		err = o.handleFailure(runCtx, sm, err, logger, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := sm.MarkCompleted(); err != nil {
		return err
	}
	if err := o.persist(runCtx, sm, logger); err != nil {
		return err
	}
	logger.InfoContext(runCtx, "task completed",
		"executed_steps", sm.ExecutedSteps,
		"duration_ms", time.Since(start).Milliseconds())
	o.finishTask(runCtx, sm, StatusSuccess, time.Since(start))
	return nil
}

// prepare loads or creates the state machine and marks it RUNNING. done is
// true when the task already completed.
//
// A load failure starts the task fresh. If the first save then shows that
// state does exist, the state is reloaded once; when it is still unreadable
// the task restarts from its first step over the stored version.
func (o *Orchestrator) prepare(
	ctx context.Context,
	taskID string,
	tc *task.TaskContext,
	logger *slog.Logger,
) (*task.TaskStateMachine, bool, error) {
	sm, loadFailed := o.load(ctx, taskID, logger)
	if sm == nil {
		sm = newMachine(taskID, tc)
	}
	sm, done, err := o.begin(ctx, sm, logger)
	if err == nil || !loadFailed || !errors.Is(err, task.ErrVersionConflict) {
		return sm, done, err
	}

	if stored, loadErr := o.store.Load(ctx, taskID); loadErr == nil {
		logger.InfoContext(ctx, "reloaded task state after failed load")
		return o.begin(ctx, stored, logger)
	}
	version, ok := task.StoredVersion(err)
	if !ok {
		return nil, false, err
	}
	logger.WarnContext(ctx, "stored task state is unreadable, restarting task", "stored_version", version)
	fresh := newMachine(taskID, tc)
	fresh.Version = version
	return o.begin(ctx, fresh, logger)
}

func newMachine(taskID string, tc *task.TaskContext) *task.TaskStateMachine {
	if tc == nil {
		tc = task.NewTaskContext(taskID)
	}
	if tc.TaskID == "" {
		tc.TaskID = taskID
	}
	return task.NewTaskStateMachine(taskID, tc)
}

// begin marks sm RUNNING and persists it.
func (o *Orchestrator) begin(
	ctx context.Context,
	sm *task.TaskStateMachine,
	logger *slog.Logger,
) (*task.TaskStateMachine, bool, error) {
	switch {
	case sm.Status == task.TaskStatusCompleted:
		logger.InfoContext(ctx, "task already completed, nothing to run")
		return sm, true, nil
	case sm.IsTerminal():
		return nil, false, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, sm.TaskID, sm.Status)
	case sm.Status == task.TaskStatusPending && len(sm.ExecutedSteps) == 0:
		logger.InfoContext(ctx, "starting task", "steps", o.order)
	default:
		logger.InfoContext(ctx, "resuming task",
			"status", sm.Status,
			"executed_steps", sm.ExecutedSteps)
	}

	if err := sm.MarkRunning(); err != nil {
		return nil, false, err
	}
	if err := o.persist(ctx, sm, logger); err != nil {
		return nil, false, err
	}
	return sm, false, nil
}

func (o *Orchestrator) runSteps(ctx context.Context, sm *task.TaskStateMachine, logger *slog.Logger) error {
	for _, name := range o.order {
		if sm.IsStepExecuted(name) {
			logger.DebugContext(ctx, "skipping executed step", "step", name)
			continue
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		exec, _ := o.registry.Lookup(name)
		if err := o.runStep(ctx, sm, exec, logger); err != nil {
			return fmt.Errorf("step %s failed: %w", name, err)
		}
		if err := sm.MarkStepExecuted(name); err != nil {
			return err
		}
		if err := o.persist(ctx, sm, logger); err != nil {
			return err
		}
	}
	return nil
}

// runStep builds the request, holds a permit for the executor call and any
// quality review, and folds the result into the context.
func (o *Orchestrator) runStep(
	ctx context.Context,
	sm *task.TaskStateMachine,
	exec task.StepExecutor,
	logger *slog.Logger,
) (err error) {
	name := exec.Name()
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.step", trace.WithAttributes(
		attribute.String("task.id", sm.TaskID),
		attribute.String("step.name", name),
	))
	defer span.End()
	defer func() {
		status := StatusSuccess
		if err != nil {
			status = StatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		tags := map[string]string{TagTaskID: sm.TaskID, TagStep: name, TagStatus: status}
		o.timing(MetricStepExecutionTime, time.Since(start), tags)
		o.increment(MetricStepExecutionTotal, tags)
	}()

	req := task.StepRequest{StepName: name}
	if builder, ok := exec.(task.RequestBuilder); ok {
		if req, err = builder.BuildRequest(sm.Context); err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.StepName = name
	}

	if err := o.permits.Acquire(ctx, o.permitTimeout); err != nil {
		return err
	}
	defer o.permits.Release()

	logger.DebugContext(ctx, "executing step", "step", name, "permits_in_flight", o.permits.InFlight())
	result, err := o.invoke(ctx, exec, sm.Context, req)
	if err != nil {
		logger.WarnContext(ctx, "step failed", "step", name, "error", err)
		return err
	}

	task.ApplyResult(sm.Context, result)
	if o.gate != nil && result.Content != "" {
		o.review(ctx, sm, name, result, logger)
	}
	logger.InfoContext(ctx, "step completed", "step", name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (o *Orchestrator) invoke(
	ctx context.Context,
	exec task.StepExecutor,
	tc *task.TaskContext,
	req task.StepRequest,
) (result *task.StepResult, err error) {
	stepCtx := ctx
	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeoutCause(ctx, o.stepTimeout, ErrStepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
	}()

	result, err = exec.Execute(stepCtx, tc, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(stepCtx), ErrStepTimeout) {
			return nil, fmt.Errorf("%w after %s: %w", ErrStepTimeout, o.stepTimeout, err)
		}
		return nil, err
	}
	if result == nil {
		result = &task.StepResult{}
	}
	return result, nil
}

func (o *Orchestrator) review(
	ctx context.Context,
	sm *task.TaskStateMachine,
	step string,
	result *task.StepResult,
	logger *slog.Logger,
) {
	reviewCtx := ctx
	if o.stepTimeout > 0 {
		// The review gets a step's budget of its own so a stalled model
		// cannot hold the permit past the step deadline.
		var cancel context.CancelFunc
		reviewCtx, cancel = context.WithTimeoutCause(ctx, o.stepTimeout, ErrStepTimeout)
		defer cancel()
	}
	rev, err := o.gate.Review(reviewCtx, sm.Context, step, result)
	if err != nil {
		logger.WarnContext(ctx, "quality review failed", "step", step, "error", err)
		return
	}
	if rev == nil {
		return
	}
	for i := 0; i < rev.RetryCount; i++ {
		o.increment(MetricStepRetryCount, map[string]string{TagTaskID: sm.TaskID, TagStep: step})
	}
	if !rev.Passed {
		logger.InfoContext(ctx, "quality review flagged content",
			"step", step,
			"corrected", rev.Corrected,
			"retry_count", rev.RetryCount,
			"errors", rev.Errors)
	}
}

// handleFailure records a failed or cancelled run. A run interrupted by its
// parent context is left RUNNING so it can be resumed.
func (o *Orchestrator) handleFailure(
	ctx context.Context,
	sm *task.TaskStateMachine,
	runErr error,
	logger *slog.Logger,
	start time.Time,
) error {
	if errors.Is(runErr, task.ErrVersionConflict) {
		logger.ErrorContext(ctx, "task state changed concurrently, abandoning run", "error", runErr)
		return runErr
	}

	cancelled := errors.Is(context.Cause(ctx), ErrTaskCancelled)
	if ctx.Err() != nil && !cancelled {
		logger.WarnContext(ctx, "task interrupted, state left resumable",
			"executed_steps", sm.ExecutedSteps,
			"error", runErr)
		return runErr
	}

	persistCtx := context.WithoutCancel(ctx)
	latest := sm
	if reloaded, _ := o.load(persistCtx, sm.TaskID, logger); reloaded != nil {
		latest = reloaded
	}

	status := StatusFailed
	var markErr error
	if cancelled {
		status = StatusCancelled
		runErr = fmt.Errorf("%w: %s", ErrTaskCancelled, sm.TaskID)
		markErr = latest.MarkCancelled()
	} else {
		markErr = latest.MarkFailed(runErr.Error())
	}
	if markErr != nil {
		logger.WarnContext(ctx, "task already finished elsewhere", "status", latest.Status, "error", markErr)
		return runErr
	}

	if err := o.persist(persistCtx, latest, logger); err != nil {
		logger.ErrorContext(ctx, "failed to record task failure", "error", err)
	}
	logger.ErrorContext(ctx, "task did not complete", "status", latest.Status, "error", runErr)
	o.finishTask(persistCtx, latest, status, time.Since(start))
	return runErr
}

func (o *Orchestrator) finishTask(ctx context.Context, sm *task.TaskStateMachine, status string, elapsed time.Duration) {
	tags := map[string]string{TagTaskID: sm.TaskID, TagStatus: status}
	if elapsed > 0 {
		o.timing(MetricTaskCompletionTime, elapsed, tags)
	}
	o.increment(MetricTaskStatusTotal, tags)

	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyCompletion(ctx, completionFor(sm)); err != nil {
		o.logger.WarnContext(ctx, "failed to publish task completion", "task_id", sm.TaskID, "error", err)
	}
}

// load returns the persisted state, or nil when it is absent or unreadable.
// failed is true when the store returned anything but ErrStateNotFound.
func (o *Orchestrator) load(ctx context.Context, taskID string, logger *slog.Logger) (sm *task.TaskStateMachine, failed bool) {
	sm, err := o.store.Load(ctx, taskID)
	if err != nil {
		if errors.Is(err, task.ErrStateNotFound) {
			return nil, false
		}
		logger.WarnContext(ctx, "failed to load task state, treating as new", "error", err)
		return nil, true
	}
	return sm, false
}

// persist saves the state machine. Only version conflicts are returned; other
// failures are logged and the run continues.
func (o *Orchestrator) persist(ctx context.Context, sm *task.TaskStateMachine, logger *slog.Logger) error {
	err := o.store.Save(ctx, sm)
	if err == nil {
		return nil
	}
	if errors.Is(err, task.ErrVersionConflict) {
		return fmt.Errorf("failed to persist task %s: %w", sm.TaskID, err)
	}
	logger.WarnContext(ctx, "failed to persist task state",
		"status", sm.Status,
		"executed_steps", sm.ExecutedSteps,
		"error", err)
	return nil
}

func (o *Orchestrator) track(taskID string, cancel context.CancelCauseFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.inflight[taskID]; exists {
		return false
	}
	o.inflight[taskID] = cancel
	return true
}

func (o *Orchestrator) untrack(taskID string) {
	o.mu.Lock()
	delete(o.inflight, taskID)
	o.mu.Unlock()
}

func (o *Orchestrator) timing(metric string, d time.Duration, tags map[string]string) {
	defer o.recoverMetrics(metric)
	o.metrics.Timing(metric, d.Milliseconds(), tags)
}

func (o *Orchestrator) increment(metric string, tags map[string]string) {
	defer o.recoverMetrics(metric)
	o.metrics.IncrementCounter(metric, tags)
}

func (o *Orchestrator) recoverMetrics(metric string) {
	if r := recover(); r != nil {
		o.logger.Warn("metrics sink panicked", "metric", metric, "panic", r)
	}
}
