package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" validate:"required"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator" validate:"required"`
	StateStore    StateStoreConfig    `mapstructure:"state_store" validate:"required"`
	Database      DatabaseConfig      `mapstructure:"database"`
	NATS          NATSConfig          `mapstructure:"nats"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Governance    GovernanceConfig    `mapstructure:"governance"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// OrchestratorConfig controls task scheduling and the built-in steps.
type OrchestratorConfig struct {
	StepOrder          []string      `mapstructure:"step_order" validate:"required,min=1,dive,required"`
	MaxConcurrentSteps int           `mapstructure:"max_concurrent_steps" validate:"gt=0"`
	StepTimeout        time.Duration `mapstructure:"step_timeout" validate:"gte=0"`
	PermitTimeout      time.Duration `mapstructure:"permit_timeout" validate:"gte=0"`

	WorkerCount            int           `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize              int           `mapstructure:"queue_size" validate:"gt=0"`
	StuckTaskAge           time.Duration `mapstructure:"stuck_task_age" validate:"gt=0"`
	StuckTaskCheckInterval time.Duration `mapstructure:"stuck_task_check_interval" validate:"gt=0"`

	// WorkDir receives fetched videos and extracted frames.
	WorkDir    string `mapstructure:"work_dir"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	// VideoDir resolves video keys on local disk when no object store is configured.
	VideoDir string `mapstructure:"video_dir"`
}

// StateStoreConfig selects where task state is persisted.
type StateStoreConfig struct {
	Backend   string        `mapstructure:"backend" validate:"required,oneof=memory postgres nats"`
	KeyPrefix string        `mapstructure:"key_prefix" validate:"required"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// NATSConfig configures the JetStream consumer, completion publishing and the
// NATS-backed stores.
type NATSConfig struct {
	URL               string `mapstructure:"url" validate:"omitempty,url"`
	ConsumerEnabled   bool   `mapstructure:"consumer_enabled"`
	Stream            string `mapstructure:"stream"`
	Subject           string `mapstructure:"subject"`
	Consumer          string `mapstructure:"consumer"`
	MaxDeliver        int    `mapstructure:"max_deliver" validate:"gte=0"`
	CompletionSubject string `mapstructure:"completion_subject"`
	KVBucket          string `mapstructure:"kv_bucket"`
	// ObjectBucket holds source videos and uploaded frames. Empty disables it.
	ObjectBucket string `mapstructure:"object_bucket"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	ModelName         string `mapstructure:"model_name" validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0,lte=60"`
	PromptTemplateDir string `mapstructure:"prompt_template_dir"`
	OCREnabled        bool   `mapstructure:"ocr_enabled"`
}

// GovernanceConfig controls validation and self-correction of model output.
type GovernanceConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	MaxRetries    int      `mapstructure:"max_retries" validate:"gte=0"`
	SemanticCheck bool     `mapstructure:"semantic_check"`
	Steps         []string `mapstructure:"steps"`
	// RequiredFields lists, per business type, the JSON fields model output
	// must contain.
	RequiredFields map[string][]string `mapstructure:"required_fields"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	// Required rejects API requests without a valid bearer token.
	Required bool `mapstructure:"required"`
}

// ObservabilityConfig controls metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name" validate:"required"`
}
