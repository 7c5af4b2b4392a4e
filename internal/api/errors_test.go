package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/agentrun/internal/orchestrator"
	"github.com/phrazzld/agentrun/internal/store"
	"github.com/phrazzld/agentrun/internal/task"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "nil error", err: nil, expectedStatus: http.StatusInternalServerError},
		{name: "state not found", err: task.ErrStateNotFound, expectedStatus: http.StatusNotFound},
		{name: "wrapped not found", err: fmt.Errorf("load: %w", store.ErrNotFound), expectedStatus: http.StatusNotFound},
		{name: "duplicate task", err: fmt.Errorf("%w: t1", orchestrator.ErrDuplicateTask), expectedStatus: http.StatusConflict},
		{name: "terminal", err: orchestrator.ErrTaskTerminal, expectedStatus: http.StatusConflict},
		{name: "version conflict", err: task.ErrVersionConflict, expectedStatus: http.StatusConflict},
		{name: "invalid submission", err: task.ErrInvalidSubmission, expectedStatus: http.StatusBadRequest},
		{name: "queue full", err: orchestrator.ErrQueueFull, expectedStatus: http.StatusServiceUnavailable},
		{name: "runner stopped", err: orchestrator.ErrRunnerStopped, expectedStatus: http.StatusServiceUnavailable},
		{name: "unknown", err: errors.New("boom"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expectedStatus, MapErrorToStatusCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	sub := task.Submission{}
	validationErr := sub.Validate()

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "An unexpected error occurred"},
		{name: "not found", err: task.ErrStateNotFound, expected: "Task not found"},
		{name: "duplicate", err: orchestrator.ErrDuplicateTask, expected: "Task already submitted"},
		{name: "terminal", err: orchestrator.ErrTaskTerminal, expected: "Task already finished"},
		{name: "validation", err: validationErr, expected: "Invalid taskType: required field"},
		{name: "bare invalid submission", err: task.ErrInvalidSubmission, expected: "Invalid task submission"},
		{name: "queue full", err: orchestrator.ErrQueueFull, expected: "Task queue is full, try again later"},
		{
			name:     "internal details hidden",
			err:      errors.New("pq: connection to 10.0.0.5 refused"),
			expected: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, GetSafeErrorMessage(tt.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Invalid videoKey: one of videoKey, videoPath or imageUrl is required",
		SanitizeValidationError(errors.New("Key: 'Submission.VideoKey' Error:Field validation for 'VideoKey' failed on the 'required_without_all' tag")))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("something else")))
}
