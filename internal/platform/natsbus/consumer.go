package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/phrazzld/agentrun/internal/config"
	"github.com/phrazzld/agentrun/internal/events"
	"github.com/phrazzld/agentrun/internal/task"
)

// EventSource is the Source recorded on events received from NATS.
const EventSource = "nats"

const defaultHandleTimeout = 30 * time.Second

// ackable is the part of jetstream.Msg the consumer uses.
type ackable interface {
	Data() []byte
	Subject() string
	Ack() error
	Nak() error
	Term() error
}

// Consumer feeds messages from a durable JetStream consumer to an
// events.EventHandler. Malformed messages and invalid submissions are
// terminated; other handler failures are redelivered up to MaxDeliver times.
type Consumer struct {
	js      jetstream.JetStream
	cfg     config.NATSConfig
	handler events.EventHandler
	logger  *slog.Logger

	mu         sync.Mutex
	baseCtx    context.Context
	consumeCtx jetstream.ConsumeContext
}

// NewConsumer creates a consumer. Call Start to begin receiving messages.
func NewConsumer(js jetstream.JetStream, cfg config.NATSConfig, handler events.EventHandler, logger *slog.Logger) *Consumer {
	return &Consumer{
		js:      js,
		cfg:     cfg,
		handler: handler,
		logger: logger.With(
			"component", "nats_consumer",
			"stream", cfg.Stream,
			"consumer", cfg.Consumer),
		baseCtx: context.Background(),
	}
}

// Start ensures the stream and durable consumer exist and starts consuming.
// Handler calls inherit values from ctx but not its cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.cfg.Stream,
		Subjects: []string{c.cfg.Subject},
	}); err != nil {
		return fmt.Errorf("create stream %s: %w", c.cfg.Stream, err)
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Name:          c.cfg.Consumer,
		Durable:       c.cfg.Consumer,
		FilterSubject: c.cfg.Subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.cfg.Consumer, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseCtx = context.WithoutCancel(ctx)

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMsg(msg)
	})
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", c.cfg.Subject, err)
	}
	c.consumeCtx = consumeCtx

	c.logger.InfoContext(ctx, "consuming task submissions", "subject", c.cfg.Subject)
	return nil
}

// Stop stops message delivery. In-flight handlers run to completion.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeCtx != nil {
		c.consumeCtx.Stop()
		c.consumeCtx = nil
		c.logger.Info("stopped consuming task submissions")
	}
}

func (c *Consumer) handleMsg(msg ackable) {
	c.mu.Lock()
	base := c.baseCtx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, defaultHandleTimeout)
	defer cancel()

	event, err := events.DecodeTaskRequestEvent(msg.Data(), EventSource)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to decode message",
			"error", err,
			"subject", msg.Subject())
		// Malformed data is never retryable
		_ = msg.Term()
		return
	}

	if err := c.handler.HandleEvent(ctx, event); err != nil {
		if errors.Is(err, task.ErrInvalidSubmission) {
			c.logger.ErrorContext(ctx, "rejecting invalid submission",
				"event_id", event.ID,
				"error", err)
			_ = msg.Term()
			return
		}
		c.logger.WarnContext(ctx, "handler failed, message will be redelivered",
			"event_id", event.ID,
			"error", err)
		_ = msg.Nak()
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.ErrorContext(ctx, "failed to ack message", "event_id", event.ID, "error", err)
	}
}
