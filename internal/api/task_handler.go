package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/agentrun/internal/api/shared"
	"github.com/phrazzld/agentrun/internal/platform/logger"
	"github.com/phrazzld/agentrun/internal/task"
)

// TaskSubmitter accepts and cancels tasks. orchestrator.Runner implements it.
type TaskSubmitter interface {
	Submit(ctx context.Context, taskID string, sub task.Submission) error
	Cancel(ctx context.Context, taskID string) error
}

// TaskStateReader reads persisted task state.
type TaskStateReader interface {
	Load(ctx context.Context, taskID string) (*task.TaskStateMachine, error)
	List(ctx context.Context, f task.ListFilter) ([]*task.TaskStateMachine, int, error)
}

// TaskHandler handles task HTTP requests.
type TaskHandler struct {
	submitter TaskSubmitter
	states    TaskStateReader
	stepOrder []string
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler. stepOrder is used to report
// progress.
func NewTaskHandler(
	submitter TaskSubmitter,
	states TaskStateReader,
	stepOrder []string,
	logger *slog.Logger,
) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		submitter: submitter,
		states:    states,
		stepOrder: append([]string(nil), stepOrder...),
		logger:    logger.With(slog.String("component", "task_handler")),
	}
}

// newTaskID returns a dashless UUID.
func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// submitRetryAfter is the Retry-After value, in seconds, sent when a
// submission is shed.
const submitRetryAfter = "5"

// SubmitTask handles POST /api/tasks. The task is persisted and queued;
// the response carries its id with 202 Accepted.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	var sub task.Submission
	if err := shared.DecodeJSON(w, r, &sub); err != nil {
		log.Debug("invalid request body", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&sub); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	taskID := sub.TaskID
	if taskID == "" {
		taskID = newTaskID()
	}

	if err := h.submitter.Submit(r.Context(), taskID, sub); err != nil {
		status := MapErrorToStatusCode(err)
		msg := GetSafeErrorMessage(err)
		if status == http.StatusInternalServerError {
			msg = "Failed to submit task"
		}
		if status == http.StatusServiceUnavailable {
			// Nothing was kept; the same request can be retried as is.
			w.Header().Set("Retry-After", submitRetryAfter)
		}
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	log.Info("task accepted", "task_id", taskID, "task_type", sub.TaskType)
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: taskID,
		Status: task.TaskStatusPending,
	})
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	sm, err := h.states.Load(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := TaskDetailResponse{TaskResponse: toTaskResponse(sm, h.stepOrder)}
	if sm.Context != nil {
		resp.ReasoningSteps = sm.Context.ReasoningSteps
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	states, total, err := h.states.List(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	resp := TaskListResponse{
		Tasks:  make([]TaskResponse, 0, len(states)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, sm := range states {
		resp.Tasks = append(resp.Tasks, toTaskResponse(sm, h.stepOrder))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// CancelTask handles POST /api/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	taskID, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if err := h.submitter.Cancel(r.Context(), taskID); err != nil {
		status := MapErrorToStatusCode(err)
		msg := GetSafeErrorMessage(err)
		if status == http.StatusInternalServerError {
			msg = "Failed to cancel task"
		}
		if errors.Is(err, task.ErrVersionConflict) {
			log.Warn("task changed while cancelling", "task_id", taskID)
		}
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	log.Info("task cancel requested", "task_id", taskID)
	w.WriteHeader(http.StatusAccepted)
}

func (h *TaskHandler) requestLogger(r *http.Request) *slog.Logger {
	if l, ok := logger.FromContext(r.Context()); ok {
		return l.With(slog.String("component", "task_handler"))
	}
	return h.logger
}
