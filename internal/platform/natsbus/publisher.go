package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/phrazzld/agentrun/internal/orchestrator"
)

// publisher is satisfied by *nats.Conn.
type publisher interface {
	Publish(subject string, data []byte) error
}

// CompletionPublisher implements orchestrator.CompletionNotifier by
// publishing each completion as JSON on a subject.
type CompletionPublisher struct {
	conn    publisher
	subject string
}

// NewCompletionPublisher creates a publisher for subject.
func NewCompletionPublisher(conn publisher, subject string) *CompletionPublisher {
	return &CompletionPublisher{conn: conn, subject: subject}
}

// NotifyCompletion implements orchestrator.CompletionNotifier.
func (p *CompletionPublisher) NotifyCompletion(ctx context.Context, c orchestrator.Completion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode completion for %s: %w", c.TaskID, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish completion for %s: %w", c.TaskID, err)
	}
	return nil
}

var _ orchestrator.CompletionNotifier = (*CompletionPublisher)(nil)
