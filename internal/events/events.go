package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventTypeAgentTask is the event type carrying a task.Submission payload.
const EventTypeAgentTask = "agent_task"

// ErrInvalidEvent is returned when an encoded event cannot be used.
var ErrInvalidEvent = errors.New("invalid task request event")

// TaskRequestEvent represents a request to start a task. The payload is kept
// as raw JSON so this package does not depend on the task package.
type TaskRequestEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source,omitempty"` // "api", "nats"
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *TaskRequestEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewTaskRequestEvent marshals payload into a new event of eventType.
func NewTaskRequestEvent(eventType string, payload any) (*TaskRequestEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &TaskRequestEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeTaskRequestEvent parses an event received from a broker. Messages that
// are a bare payload without an envelope are wrapped as agent_task events.
func DecodeTaskRequestEvent(data []byte, source string) (*TaskRequestEvent, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrInvalidEvent)
	}

	var event TaskRequestEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.Type == "" && len(event.Payload) == 0 {
		event = TaskRequestEvent{Type: EventTypeAgentTask, Payload: json.RawMessage(data)}
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = source
	}
	return &event, nil
}

// EventHandler consumes task request events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventEmitter routes events to the handlers registered for their type.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}
