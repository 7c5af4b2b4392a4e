package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.IsTerminal(), string(tt.status))
		assert.True(t, tt.status.Valid())
	}
	assert.False(t, TaskStatus("DONE").Valid())
}

func TestTaskStateMachine_Lifecycle(t *testing.T) {
	t.Parallel()

	m := NewTaskStateMachine("t1", nil)
	assert.Equal(t, TaskStatusPending, m.Status)
	require.NotNil(t, m.Context)
	assert.Equal(t, "t1", m.Context.TaskID)

	require.NoError(t, m.MarkRunning())
	assert.Equal(t, TaskStatusRunning, m.Status)

	require.NoError(t, m.MarkStepExecuted(StepFrameExtract))
	assert.True(t, m.IsStepExecuted(StepFrameExtract))
	assert.False(t, m.IsStepExecuted(StepInference))
	assert.Equal(t, 1, m.CurrentStepIndex)

	require.NoError(t, m.MarkCompleted())
	assert.Equal(t, TaskStatusCompleted, m.Status)
	require.NotNil(t, m.CompletedAt)
	assert.Equal(t, m.UpdatedAt, *m.CompletedAt)
}

func TestTaskStateMachine_MarkStepExecutedIdempotent(t *testing.T) {
	t.Parallel()

	m := NewTaskStateMachine("t1", nil)
	require.NoError(t, m.MarkRunning())
	require.NoError(t, m.MarkStepExecuted(StepFrameExtract))
	before := m.UpdatedAt
	require.NoError(t, m.MarkStepExecuted(StepFrameExtract))

	assert.Equal(t, []string{StepFrameExtract}, m.ExecutedSteps)
	assert.Equal(t, 2, m.CurrentStepIndex)
	assert.False(t, m.UpdatedAt.Before(before))
}

func TestTaskStateMachine_TerminalStateImmutable(t *testing.T) {
	t.Parallel()

	finishers := map[TaskStatus]func(*TaskStateMachine) error{
		TaskStatusCompleted: (*TaskStateMachine).MarkCompleted,
		TaskStatusFailed:    func(m *TaskStateMachine) error { return m.MarkFailed("boom") },
		TaskStatusCancelled: (*TaskStateMachine).MarkCancelled,
	}

	for status, finish := range finishers {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			m := NewTaskStateMachine("t1", nil)
			require.NoError(t, m.MarkRunning())
			require.NoError(t, finish(m))
			updated := m.UpdatedAt
			steps := len(m.ExecutedSteps)

			assert.ErrorIs(t, m.MarkRunning(), ErrTerminalState)
			assert.ErrorIs(t, m.MarkStepExecuted(StepInference), ErrTerminalState)
			assert.ErrorIs(t, m.MarkCompleted(), ErrTerminalState)
			assert.ErrorIs(t, m.MarkFailed("again"), ErrTerminalState)
			assert.ErrorIs(t, m.MarkCancelled(), ErrTerminalState)

			assert.Equal(t, status, m.Status)
			assert.Equal(t, updated, m.UpdatedAt)
			assert.Len(t, m.ExecutedSteps, steps)
		})
	}
}

func TestTaskStateMachine_MarkFailedRecordsMessage(t *testing.T) {
	t.Parallel()

	m := NewTaskStateMachine("t1", nil)
	require.NoError(t, m.MarkFailed("inference backend unavailable"))
	assert.Equal(t, TaskStatusFailed, m.Status)
	assert.Equal(t, "inference backend unavailable", m.ErrorMessage)
}

func TestTaskStateMachine_SnapshotLayout(t *testing.T) {
	t.Parallel()

	tc := NewTaskContext("t1")
	tc.ImagePaths = []string{"a.jpg"}
	m := NewTaskStateMachine("t1", tc)
	require.NoError(t, m.MarkRunning())
	require.NoError(t, m.MarkStepExecuted(StepFrameExtract))

	data, err := m.Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, field := range []string{"taskId", "status", "context", "executedSteps", "currentStepIndex", "createdAt", "updatedAt", "version"} {
		assert.Contains(t, raw, field)
	}
	assert.NotContains(t, raw, "completedAt")
	assert.Equal(t, "RUNNING", raw["status"])

	decoded, err := UnmarshalTaskStateMachine(data)
	require.NoError(t, err)
	assert.Equal(t, []string{StepFrameExtract}, decoded.ExecutedSteps)
	assert.Equal(t, []string{"a.jpg"}, decoded.Context.ImagePaths)
	assert.True(t, decoded.CreatedAt.Equal(m.CreatedAt))
}

func TestUnmarshalTaskStateMachine_Invalid(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalTaskStateMachine([]byte("not json"))
	assert.Error(t, err)

	_, err = UnmarshalTaskStateMachine([]byte(`{"status":"PENDING"}`))
	assert.Error(t, err)

	m, err := UnmarshalTaskStateMachine([]byte(`{"taskId":"t9","status":"PENDING"}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Context)
	assert.NotNil(t, m.ExecutedSteps)
}
