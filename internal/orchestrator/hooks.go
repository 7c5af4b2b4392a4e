package orchestrator

import (
	"context"
	"time"

	"github.com/phrazzld/agentrun/internal/task"
)

// QualityGate reviews the content produced by a step before the step is
// recorded as executed. It may rewrite the context (for example with corrected
// content). Errors are logged and never fail the task.
type QualityGate interface {
	Review(ctx context.Context, tc *task.TaskContext, stepName string, result *task.StepResult) (*Review, error)
}

// Review summarizes a QualityGate pass.
type Review struct {
	Passed     bool
	Corrected  bool
	RetryCount int
	Errors     []string
}

// Completion describes a task that reached a terminal state.
type Completion struct {
	TaskID        string          `json:"taskId"`
	TaskType      string          `json:"taskType,omitempty"`
	Status        task.TaskStatus `json:"status"`
	ExecutedSteps []string        `json:"executedSteps"`
	Content       string          `json:"content,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// CompletionNotifier is told about every task that reaches a terminal state.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, c Completion) error
}

func completionFor(m *task.TaskStateMachine) Completion {
	c := Completion{
		TaskID:        m.TaskID,
		Status:        m.Status,
		ExecutedSteps: append([]string(nil), m.ExecutedSteps...),
		ErrorMessage:  m.ErrorMessage,
		CompletedAt:   m.UpdatedAt,
	}
	if m.CompletedAt != nil {
		c.CompletedAt = *m.CompletedAt
	}
	if m.Context != nil {
		c.TaskType = m.Context.TaskType
		c.Content = m.Context.GetString(task.KeyLLMContent)
	}
	return c
}
