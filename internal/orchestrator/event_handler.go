package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/agentrun/internal/events"
	"github.com/phrazzld/agentrun/internal/task"
)

// Submitter accepts task submissions. *Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, taskID string, sub task.Submission) error
}

// SubmissionEventHandler implements events.EventHandler by turning agent_task
// events into runner submissions.
type SubmissionEventHandler struct {
	submitter Submitter
	logger    *slog.Logger
}

// NewSubmissionEventHandler creates a handler that submits to the given runner.
func NewSubmissionEventHandler(submitter Submitter, logger *slog.Logger) *SubmissionEventHandler {
	return &SubmissionEventHandler{
		submitter: submitter,
		logger:    logger.With("component", "submission_event_handler"),
	}
}

// HandleEvent decodes the submission and submits it. The payload's taskId is
// used when present; otherwise the event id becomes the task id, so a
// redelivered event maps to the same task. Duplicate submissions are not errors.
func (h *SubmissionEventHandler) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	if event.Type != events.EventTypeAgentTask {
		h.logger.DebugContext(ctx, "ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	var sub task.Submission
	if err := event.UnmarshalPayload(&sub); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal payload", "error", err, "event_id", event.ID)
		return fmt.Errorf("%w: %v", task.ErrInvalidSubmission, err)
	}

	taskID := sub.TaskID
	if taskID == "" {
		taskID = strings.ReplaceAll(event.ID.String(), "-", "")
	}

	if err := h.submitter.Submit(ctx, taskID, sub); err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			h.logger.InfoContext(ctx, "task already submitted, ignoring duplicate event",
				"task_id", taskID,
				"event_id", event.ID)
			return nil
		}
		h.logger.ErrorContext(ctx, "failed to submit task",
			"error", err,
			"task_id", taskID,
			"event_id", event.ID,
			"source", event.Source)
		return fmt.Errorf("failed to submit task: %w", err)
	}

	h.logger.InfoContext(ctx, "task submitted from event",
		"task_id", taskID,
		"task_type", sub.TaskType,
		"event_id", event.ID,
		"source", event.Source)
	return nil
}

// Ensure SubmissionEventHandler implements events.EventHandler
var _ events.EventHandler = (*SubmissionEventHandler)(nil)
