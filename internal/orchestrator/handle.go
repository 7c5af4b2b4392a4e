package orchestrator

import "context"

// Handle tracks a task started with ExecuteTask.
type Handle struct {
	taskID string
	done   chan struct{}
	err    error
}

func newHandle(taskID string) *Handle {
	return &Handle{taskID: taskID, done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// TaskID returns the id of the tracked task.
func (h *Handle) TaskID() string {
	return h.taskID
}

// Done is closed when the task stops running.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's outcome. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task stops or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
