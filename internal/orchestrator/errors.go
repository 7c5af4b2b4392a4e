package orchestrator

import "errors"

// Error definitions for the orchestrator package.
var (
	// ErrNilStore is returned when an orchestrator is built without a state store.
	ErrNilStore = errors.New("task state store cannot be nil")

	// ErrUnknownStep is returned when the step order names a step with no executor.
	ErrUnknownStep = errors.New("no executor registered for step")

	// ErrEmptyTaskID is returned when a task is started without an id.
	ErrEmptyTaskID = errors.New("task id cannot be empty")

	// ErrTaskInFlight is returned when a task id is already running in this process.
	ErrTaskInFlight = errors.New("task is already running")

	// ErrTaskTerminal is returned when starting or cancelling a task that already
	// finished as FAILED or CANCELLED (or, for cancel, COMPLETED).
	ErrTaskTerminal = errors.New("task already finished")

	// ErrTaskCancelled is the cause attached to a task cancelled through Cancel.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrPermitTimeout is returned when no backpressure permit became available
	// within the configured wait.
	ErrPermitTimeout = errors.New("timed out waiting for execution permit")

	// ErrStepTimeout is returned when a step exceeds the per-step timeout.
	ErrStepTimeout = errors.New("step execution timed out")

	// ErrStepPanic is returned when a step executor panics.
	ErrStepPanic = errors.New("step executor panicked")

	// ErrQueueFull is returned by Runner.Submit when the queue has no room.
	ErrQueueFull = errors.New("task queue is full, try again later")

	// ErrDuplicateTask is returned by Runner.Submit when the task id already has
	// persisted state.
	ErrDuplicateTask = errors.New("task already submitted")

	// ErrRunnerStopped is returned by Runner.Submit after Stop.
	ErrRunnerStopped = errors.New("task runner is stopped")
)
