package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g.
// AGENTRUN_SERVER_PORT for server.port.
const EnvPrefix = "AGENTRUN"

var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.shutdown_timeout": "30s",

	"orchestrator.step_order":                []string{"FrameExtract", "Inference"},
	"orchestrator.max_concurrent_steps":      50,
	"orchestrator.step_timeout":              "10m",
	"orchestrator.permit_timeout":            "5m",
	"orchestrator.worker_count":              8,
	"orchestrator.queue_size":                500,
	"orchestrator.stuck_task_age":            "30m",
	"orchestrator.stuck_task_check_interval": "5m",
	"orchestrator.work_dir":                  "",
	"orchestrator.ffmpeg_path":               "ffmpeg",
	"orchestrator.video_dir":                 "",

	"state_store.backend":    "memory",
	"state_store.key_prefix": "task_state:",
	"state_store.ttl":        "168h",

	"database.url":            "",
	"database.max_open_conns": 10,

	"nats.url":                "",
	"nats.consumer_enabled":   false,
	"nats.stream":             "AGENT_TASKS",
	"nats.subject":            "agent.tasks.submit",
	"nats.consumer":           "agentrun",
	"nats.max_deliver":        5,
	"nats.completion_subject": "agent.tasks.completed",
	"nats.kv_bucket":          "task_state",
	"nats.object_bucket":      "",

	"llm.gemini_api_key":      "",
	"llm.model_name":          "gemini-2.0-flash",
	"llm.max_retries":         3,
	"llm.retry_delay_seconds": 2,
	"llm.prompt_template_dir": "",
	"llm.ocr_enabled":         false,

	"governance.enabled":        true,
	"governance.max_retries":    3,
	"governance.semantic_check": false,
	"governance.steps":          []string{"Inference"},

	"auth.jwt_secret": "",
	"auth.required":   false,

	"observability.metrics_enabled": true,
	"observability.tracing_enabled": false,
	"observability.service_name":    "agentrun",
}

// Load configuration from environment variables and an optional config.yaml
// in the working directory. Environment variables take precedence over values
// from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path looks for
// config.yaml in the working directory and tolerates its absence.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings that depend on each
// other.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	switch c.StateStore.Backend {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("config validation failed: database.url is required for the postgres state store")
		}
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("config validation failed: nats.url is required for the nats state store")
		}
	}
	if c.NATS.ConsumerEnabled && c.NATS.URL == "" {
		return errors.New("config validation failed: nats.url is required when the consumer is enabled")
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return errors.New("config validation failed: auth.jwt_secret is required when auth is required")
	}
	if c.needsLLM() && c.LLM.GeminiAPIKey == "" {
		return errors.New("config validation failed: llm.gemini_api_key is required by the Inference step and governance")
	}
	return nil
}

func (c *Config) needsLLM() bool {
	return slices.Contains(c.Orchestrator.StepOrder, "Inference") ||
		(c.Governance.Enabled && c.Governance.SemanticCheck) ||
		c.LLM.OCREnabled
}
