package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventEmitter(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("emit event with no handlers", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(logger)
		event, err := NewTaskRequestEvent(EventTypeAgentTask, map[string]string{"key": "value"})
		require.NoError(t, err)

		assert.NoError(t, emitter.EmitEvent(context.Background(), event))
	})

	t.Run("dispatches by event type", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(logger)
		taskHandler := &MockEventHandler{}
		otherHandler := &MockEventHandler{}
		emitter.RegisterHandler(EventTypeAgentTask, taskHandler)
		emitter.RegisterHandler("other", otherHandler)

		event, err := NewTaskRequestEvent(EventTypeAgentTask, map[string]string{"key": "value"})
		require.NoError(t, err)
		require.NoError(t, emitter.EmitEvent(context.Background(), event))

		assert.Equal(t, 1, taskHandler.HandledCount)
		assert.Equal(t, event, taskHandler.LastEvent)
		assert.Equal(t, 0, otherHandler.HandledCount)
	})

	t.Run("emit event with failing handler", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(logger)
		failingHandler := &MockEventHandler{HandlerError: errors.New("handler error")}
		successHandler := &MockEventHandler{}
		emitter.RegisterHandler(EventTypeAgentTask, failingHandler)
		emitter.RegisterHandler(EventTypeAgentTask, successHandler)

		event, err := NewTaskRequestEvent(EventTypeAgentTask, map[string]string{"key": "value"})
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.EqualError(t, err, "handler error")
		assert.Equal(t, 1, failingHandler.HandledCount)
		assert.Equal(t, 1, successHandler.HandledCount)
	})

	t.Run("joins every handler failure", func(t *testing.T) {
		t.Parallel()

		errFirst := errors.New("first")
		errSecond := errors.New("second")
		emitter := NewInMemoryEventEmitter(logger)
		emitter.RegisterHandler(EventTypeAgentTask, HandlerFunc(func(context.Context, *TaskRequestEvent) error {
			return errFirst
		}))
		emitter.RegisterHandler(EventTypeAgentTask, HandlerFunc(func(context.Context, *TaskRequestEvent) error {
			return errSecond
		}))

		event, err := NewTaskRequestEvent(EventTypeAgentTask, map[string]string{"key": "value"})
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.ErrorIs(t, err, errFirst)
		assert.ErrorIs(t, err, errSecond)
	})

	t.Run("acts as an event handler", func(t *testing.T) {
		t.Parallel()

		emitter := NewInMemoryEventEmitter(logger)
		taskHandler := &MockEventHandler{}
		emitter.RegisterHandler(EventTypeAgentTask, taskHandler)

		var handler EventHandler = emitter
		event, err := NewTaskRequestEvent(EventTypeAgentTask, map[string]string{"key": "value"})
		require.NoError(t, err)

		require.NoError(t, handler.HandleEvent(context.Background(), event))
		assert.Equal(t, 1, taskHandler.HandledCount)
	})
}
