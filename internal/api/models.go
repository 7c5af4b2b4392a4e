package api

import (
	"time"

	"github.com/phrazzld/agentrun/internal/task"
)

// SubmitTaskResponse is returned by POST /api/tasks.
type SubmitTaskResponse struct {
	TaskID string          `json:"taskId"`
	Status task.TaskStatus `json:"status"`
}

// TaskResponse describes one task.
type TaskResponse struct {
	TaskID        string          `json:"taskId"`
	TaskType      string          `json:"taskType,omitempty"`
	Status        task.TaskStatus `json:"status"`
	ExecutedSteps []string        `json:"executedSteps"`
	CurrentStep   string          `json:"currentStep,omitempty"`
	Progress      int             `json:"progress"`
	Content       string          `json:"content,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// TaskDetailResponse adds the reasoning history to TaskResponse.
type TaskDetailResponse struct {
	TaskResponse
	ReasoningSteps []task.ReasoningStep `json:"reasoningSteps,omitempty"`
}

// TaskListResponse is returned by GET /api/tasks.
type TaskListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	InFlightSteps  int    `json:"inFlightSteps"`
	StepCapacity   int    `json:"stepCapacity"`
	StateStore     string `json:"stateStore"`
	StateStoreOkay bool   `json:"stateStoreOk"`
}

// toTaskResponse summarizes sm. Progress is the share of stepOrder already
// executed; a completed task always reports 100.
func toTaskResponse(sm *task.TaskStateMachine, stepOrder []string) TaskResponse {
	resp := TaskResponse{
		TaskID:        sm.TaskID,
		Status:        sm.Status,
		ExecutedSteps: append([]string{}, sm.ExecutedSteps...),
		Progress:      progress(sm, stepOrder),
		ErrorMessage:  sm.ErrorMessage,
		CreatedAt:     sm.CreatedAt,
		UpdatedAt:     sm.UpdatedAt,
		CompletedAt:   sm.CompletedAt,
	}
	if sm.Context != nil {
		resp.TaskType = sm.Context.TaskType
		resp.Content = sm.Context.GetString(task.KeyLLMContent)
	}
	if !sm.IsTerminal() {
		for _, name := range stepOrder {
			if !sm.IsStepExecuted(name) {
				resp.CurrentStep = name
				break
			}
		}
	}
	return resp
}

func progress(sm *task.TaskStateMachine, stepOrder []string) int {
	if sm.Status == task.TaskStatusCompleted {
		return 100
	}
	if len(stepOrder) == 0 {
		return 0
	}
	done := 0
	for _, name := range stepOrder {
		if sm.IsStepExecuted(name) {
			done++
		}
	}
	return done * 100 / len(stepOrder)
}
