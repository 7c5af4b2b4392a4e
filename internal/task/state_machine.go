package task

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStateMachine is the persisted record of a task's lifecycle and the steps
// it has completed. It is the unit written to a TaskStateStore.
//
// Version is an optimistic concurrency token owned by the store: Save only
// succeeds when the stored version equals Version, and bumps it on success.
type TaskStateMachine struct {
	TaskID           string       `json:"taskId"`
	Status           TaskStatus   `json:"status"`
	Context          *TaskContext `json:"context"`
	ExecutedSteps    []string     `json:"executedSteps"`
	CurrentStepIndex int          `json:"currentStepIndex"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	Version          int64        `json:"version"`
}

// NewTaskStateMachine creates a PENDING state machine for a task.
func NewTaskStateMachine(taskID string, tc *TaskContext) *TaskStateMachine {
	if tc == nil {
		tc = NewTaskContext(taskID)
	}
	now := time.Now().UTC()
	return &TaskStateMachine{
		TaskID:        taskID,
		Status:        TaskStatusPending,
		Context:       tc,
		ExecutedSteps: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the task has reached COMPLETED, FAILED or CANCELLED.
func (m *TaskStateMachine) IsTerminal() bool {
	return m.Status.IsTerminal()
}

// IsStepExecuted reports whether name has already completed for this task.
func (m *TaskStateMachine) IsStepExecuted(name string) bool {
	return slices.Contains(m.ExecutedSteps, name)
}

// MarkRunning moves the task to RUNNING. Calling it on a RUNNING task (a resume)
// only refreshes UpdatedAt.
func (m *TaskStateMachine) MarkRunning() error {
	if err := m.guard("mark running"); err != nil {
		return err
	}
	m.Status = TaskStatusRunning
	m.touch()
	return nil
}

// MarkStepExecuted records that name completed. Recording the same name twice
// keeps a single entry but still advances CurrentStepIndex and UpdatedAt.
func (m *TaskStateMachine) MarkStepExecuted(name string) error {
	if err := m.guard("mark step executed"); err != nil {
		return err
	}
	if !m.IsStepExecuted(name) {
		m.ExecutedSteps = append(m.ExecutedSteps, name)
	}
	m.CurrentStepIndex++
	m.touch()
	return nil
}

// MarkCompleted moves the task to COMPLETED.
func (m *TaskStateMachine) MarkCompleted() error {
	return m.finish(TaskStatusCompleted, "")
}

// MarkFailed moves the task to FAILED and records message.
func (m *TaskStateMachine) MarkFailed(message string) error {
	return m.finish(TaskStatusFailed, message)
}

// MarkCancelled moves the task to CANCELLED.
func (m *TaskStateMachine) MarkCancelled() error {
	return m.finish(TaskStatusCancelled, "")
}

func (m *TaskStateMachine) finish(status TaskStatus, message string) error {
	if err := m.guard("mark " + string(status)); err != nil {
		return err
	}
	m.Status = status
	m.ErrorMessage = message
	m.touch()
	completed := m.UpdatedAt
	m.CompletedAt = &completed
	return nil
}

func (m *TaskStateMachine) guard(op string) error {
	if m.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot %s task %s in status %s", ErrTerminalState, op, m.TaskID, m.Status)
	}
	return nil
}

func (m *TaskStateMachine) touch() {
	m.UpdatedAt = time.Now().UTC()
}

// Marshal encodes the state machine as the JSON snapshot stored by a TaskStateStore.
func (m *TaskStateMachine) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state for task %s: %w", m.TaskID, err)
	}
	return data, nil
}

// UnmarshalTaskStateMachine decodes a JSON snapshot.
func UnmarshalTaskStateMachine(data []byte) (*TaskStateMachine, error) {
	var m TaskStateMachine
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task state: %w", err)
	}
	if m.TaskID == "" {
		return nil, fmt.Errorf("failed to unmarshal task state: missing taskId")
	}
	if m.ExecutedSteps == nil {
		m.ExecutedSteps = []string{}
	}
	if m.Context == nil {
		m.Context = NewTaskContext(m.TaskID)
	}
	return &m, nil
}
