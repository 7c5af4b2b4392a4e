package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/phrazzld/agentrun/internal/config"
	"github.com/phrazzld/agentrun/internal/events"
	"github.com/phrazzld/agentrun/internal/governance"
	"github.com/phrazzld/agentrun/internal/llm"
	"github.com/phrazzld/agentrun/internal/orchestrator"
	"github.com/phrazzld/agentrun/internal/platform/gemini"
	"github.com/phrazzld/agentrun/internal/platform/metrics"
	"github.com/phrazzld/agentrun/internal/platform/natsbus"
	"github.com/phrazzld/agentrun/internal/platform/postgres"
	"github.com/phrazzld/agentrun/internal/platform/tracing"
	"github.com/phrazzld/agentrun/internal/prompt"
	"github.com/phrazzld/agentrun/internal/steps"
	"github.com/phrazzld/agentrun/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Connections, nil when unused
	db       *sql.DB
	natsConn *nats.Conn
	js       jetstream.JetStream

	stateStore task.TaskStateRepository
	llmClient  llm.Client
	prompts    *prompt.Manager
	metrics    *metrics.PrometheusSink

	permits      *orchestrator.PermitPool
	orchestrator *orchestrator.Orchestrator
	runner       *orchestrator.Runner
	emitter      *events.InMemoryEventEmitter
	consumer     *natsbus.Consumer

	shutdownTracing tracing.ShutdownFunc
}

// appOption overrides a dependency before it is built.
type appOption func(*application)

// withLLMClient replaces the Gemini client.
func withLLMClient(c llm.Client) appOption {
	return func(app *application) {
		app.llmClient = c
	}
}

// newApplication creates a new application instance with all dependencies
// initialized. Connections opened before a failure are closed again.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (app *application, err error) {
	app = &application{
		config:          cfg,
		logger:          logger,
		shutdownTracing: func(context.Context) error { return nil },
	}
	for _, opt := range opts {
		opt(app)
	}
	defer func() {
		if err != nil {
			app.closeConnections(context.Background())
		}
	}()

	_, app.shutdownTracing, err = tracing.Setup(cfg.Observability, os.Stdout)
	if err != nil {
		return nil, err
	}
	if cfg.Observability.MetricsEnabled {
		app.metrics = metrics.NewPrometheusSink()
	}

	if cfg.NATS.URL != "" {
		app.natsConn, app.js, err = natsbus.Connect(ctx, cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
	}

	if err := app.setupStateStore(ctx); err != nil {
		return nil, err
	}

	if app.llmClient == nil && cfg.LLM.GeminiAPIKey != "" {
		app.llmClient, err = gemini.NewClient(ctx, logger.With("component", "llm_client"), cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		logger.Info("LLM client initialized", "model", cfg.LLM.ModelName)
	}

	var promptOpts []prompt.Option
	if cfg.LLM.PromptTemplateDir != "" {
		promptOpts = append(promptOpts, prompt.WithTemplateDir(cfg.LLM.PromptTemplateDir))
	}
	app.prompts, err = prompt.NewManager(logger, promptOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	executors, err := app.buildExecutors(ctx)
	if err != nil {
		return nil, err
	}

	app.permits = orchestrator.NewPermitPool(cfg.Orchestrator.MaxConcurrentSteps)
	orchOpts := []orchestrator.Option{orchestrator.WithPermitPool(app.permits)}
	if app.metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithMetrics(app.metrics))
	}
	if cfg.Governance.Enabled {
		orchOpts = append(orchOpts, orchestrator.WithQualityGate(app.buildGate()))
	}
	if app.natsConn != nil && cfg.NATS.CompletionSubject != "" {
		orchOpts = append(orchOpts, orchestrator.WithCompletionNotifier(
			natsbus.NewCompletionPublisher(app.natsConn, cfg.NATS.CompletionSubject)))
	}

	app.orchestrator, err = orchestrator.New(orchestrator.Config{
		StepOrder:          cfg.Orchestrator.StepOrder,
		MaxConcurrentSteps: cfg.Orchestrator.MaxConcurrentSteps,
		StepTimeout:        cfg.Orchestrator.StepTimeout,
		PermitTimeout:      cfg.Orchestrator.PermitTimeout,
	}, executors, app.stateStore, logger, orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.runner = orchestrator.NewRunner(app.orchestrator, app.stateStore, orchestrator.RunnerConfig{
		WorkerCount:            cfg.Orchestrator.WorkerCount,
		QueueSize:              cfg.Orchestrator.QueueSize,
		StuckTaskAge:           cfg.Orchestrator.StuckTaskAge,
		StuckTaskCheckInterval: cfg.Orchestrator.StuckTaskCheckInterval,
	}, logger)

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(events.EventTypeAgentTask,
		orchestrator.NewSubmissionEventHandler(app.runner, logger))
	if cfg.NATS.ConsumerEnabled {
		app.consumer = natsbus.NewConsumer(app.js, cfg.NATS, app.emitter, logger)
	}

	logger.Info("application initialized",
		"state_store", cfg.StateStore.Backend,
		"max_concurrent_steps", app.permits.Capacity(),
		"governance", cfg.Governance.Enabled,
		"nats_consumer", app.consumer != nil)
	return app, nil
}

func (app *application) setupStateStore(ctx context.Context) error {
	cfg := app.config
	switch cfg.StateStore.Backend {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database, app.logger)
		if err != nil {
			return err
		}
		app.db = db
		if err := postgres.Migrate(ctx, db, "up", app.logger); err != nil {
			return err
		}
		app.stateStore = postgres.NewTaskStateStore(db, cfg.StateStore.KeyPrefix, cfg.StateStore.TTL)
	case "nats":
		kv, err := natsbus.NewKVStateStore(ctx, app.js, cfg.NATS.KVBucket,
			cfg.StateStore.KeyPrefix, cfg.StateStore.TTL, app.logger)
		if err != nil {
			return err
		}
		app.stateStore = kv
	default:
		app.stateStore = task.NewMemoryStateStore(cfg.StateStore.KeyPrefix, cfg.StateStore.TTL)
	}
	return nil
}

// buildExecutors creates one executor per configured step.
func (app *application) buildExecutors(ctx context.Context) ([]task.StepExecutor, error) {
	cfg := app.config
	executors := make([]task.StepExecutor, 0, len(cfg.Orchestrator.StepOrder))

	for _, name := range cfg.Orchestrator.StepOrder {
		switch name {
		case task.StepFrameExtract:
			fe, err := app.buildFrameExtract(ctx)
			if err != nil {
				return nil, err
			}
			executors = append(executors, fe)
		case task.StepInference:
			if app.llmClient == nil {
				return nil, fmt.Errorf("%s step requires an LLM client", name)
			}
			inferOpts := []steps.InferenceOption{steps.WithPromptBuilder(app.prompts)}
			if cfg.LLM.OCREnabled {
				inferOpts = append(inferOpts, steps.WithOCR(steps.NewModelOCR(app.llmClient)))
			}
			executors = append(executors, steps.NewInferenceExecutor(app.llmClient, app.logger, inferOpts...))
		default:
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrUnknownStep, name)
		}
	}
	return executors, nil
}

func (app *application) buildFrameExtract(ctx context.Context) (*steps.FrameExtractExecutor, error) {
	cfg := app.config.Orchestrator

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "agentrun")
	}

	var feOpts []steps.FrameExtractOption
	switch {
	case app.js != nil && app.config.NATS.ObjectBucket != "":
		objects, err := natsbus.NewObjectStore(ctx, app.js, app.config.NATS.ObjectBucket, app.logger)
		if err != nil {
			return nil, err
		}
		feOpts = append(feOpts, steps.WithVideoFetcher(objects), steps.WithFrameUploader(objects))
	case cfg.VideoDir != "":
		feOpts = append(feOpts, steps.WithVideoFetcher(steps.LocalVideoFetcher{BaseDir: cfg.VideoDir}))
	}

	return steps.NewFrameExtractExecutor(
		steps.NewFFmpegExtractor(cfg.FFmpegPath, app.logger),
		workDir, app.logger, feOpts...), nil
}

func (app *application) buildGate() *governance.Gate {
	cfg := app.config.Governance

	validator := governance.NewDualCheckValidator(
		governance.NewDefaultRuleRegistry(cfg.RequiredFields),
		app.llmClient, cfg.SemanticCheck, app.logger)

	var corrector *governance.SelfCorrectionHandler
	if app.llmClient != nil {
		corrector = governance.NewSelfCorrectionHandler(app.llmClient, app.logger,
			governance.WithMaxRetries(cfg.MaxRetries),
			governance.WithReflectionPromptBuilder(app.prompts))
	}
	return governance.NewGate(validator, corrector, app.logger, cfg.Steps...)
}

// Run starts background processing and serves HTTP until ctx is cancelled,
// then shuts everything down.
func (app *application) Run(ctx context.Context) error {
	if err := app.runner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	if app.consumer != nil {
		if err := app.consumer.Start(ctx); err != nil {
			app.cleanup()
			return fmt.Errorf("failed to start NATS consumer: %w", err)
		}
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops intake, lets running tasks finish within the shutdown
// timeout, then closes connections. Tasks still running at the deadline
// stay RUNNING and resume on the next start.
func (app *application) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if app.consumer != nil {
		app.consumer.Stop()
	}
	if app.runner != nil {
		if err := app.runner.Stop(ctx); err != nil {
			app.logger.Warn("task runner did not stop cleanly", "error", err)
		}
	}
	app.closeConnections(ctx)

	app.logger.Info("application shutdown completed")
}

func (app *application) closeConnections(ctx context.Context) {
	if err := app.shutdownTracing(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		app.logger.Error("error flushing traces", "error", err)
	}
	if app.natsConn != nil {
		if err := app.natsConn.Drain(); err != nil {
			app.logger.Error("error draining NATS connection", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
}
