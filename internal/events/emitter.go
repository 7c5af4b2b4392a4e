package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskRequestEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	return f(ctx, event)
}

// InMemoryEventEmitter dispatches events synchronously to the handlers
// registered for their type.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		handlers: make(map[string][]EventHandler),
		logger:   logger.With("component", "event_emitter"),
	}
}

// RegisterHandler subscribes handler to events of eventType.
func (e *InMemoryEventEmitter) RegisterHandler(eventType string, handler EventHandler) {
	e.mu.Lock()
	e.handlers[eventType] = append(e.handlers[eventType], handler)
	e.mu.Unlock()
}

// EmitEvent passes event to every handler registered for its type. All
// handlers run even when one fails; the failures are joined. An event nobody
// listens for is logged and dropped.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskRequestEvent) error {
	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers[event.Type]...)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.WarnContext(ctx, "no handlers registered for event",
			"event_id", event.ID,
			"event_type", event.Type)
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "event handler failed",
				"event_id", event.ID,
				"event_type", event.Type,
				"source", event.Source,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleEvent implements EventHandler by emitting the event, so an emitter
// can sit behind a transport consumer.
func (e *InMemoryEventEmitter) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	return e.EmitEvent(ctx, event)
}
