// Package config loads settings for the controller and worker binaries from
// an optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Event transports carrying job events from workers to the controller.
const (
	TransportLocal    = "local"
	TransportPostgres = "postgres"
	TransportRedis    = "redis"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// Worker-specific configuration
	WorkerID                string
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration

	// Queue policy
	VisibilityTimeout time.Duration
	MaxAttempts       int

	// EmbeddedWorker runs a worker inside the controller process.
	EmbeddedWorker bool

	// EventTransport is one of local, postgres or redis.
	EventTransport string
	RedisAddr      string
	RedisChannel   string

	// Artifact storage root
	ArtifactDir string

	// Generation engine
	EngineURL     string
	EngineAPIKey  string
	EngineModel   string
	EngineTimeout time.Duration

	// Observability
	LogLevel       string
	OTELEndpoint   string
	TracingEnabled bool

	// HTTP behaviour
	RateLimit       float64
	RateLimitBurst  int
	StreamKeepAlive time.Duration
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"database_url":              "DATABASE_URL",
	"http_port":                 "PORT",
	"worker_id":                 "WORKER_ID",
	"worker_concurrency":        "WORKER_CONCURRENCY",
	"worker_poll_interval":      "WORKER_POLL_INTERVAL",
	"worker_max_backoff":        "WORKER_MAX_BACKOFF",
	"worker_heartbeat_interval": "WORKER_HEARTBEAT_INTERVAL",
	"visibility_timeout":        "VISIBILITY_TIMEOUT",
	"max_attempts":              "MAX_ATTEMPTS",
	"embedded_worker":           "EMBEDDED_WORKER",
	"event_transport":           "EVENT_TRANSPORT",
	"redis_addr":                "REDIS_ADDR",
	"redis_channel":             "REDIS_CHANNEL",
	"artifact_dir":              "ARTIFACT_DIR",
	"engine_url":                "ENGINE_URL",
	"engine_api_key":            "ENGINE_API_KEY",
	"engine_model":              "ENGINE_MODEL",
	"engine_timeout":            "ENGINE_TIMEOUT",
	"log_level":                 "LOG_LEVEL",
	"otel_endpoint":             "OTEL_EXPORTER_OTLP_ENDPOINT",
	"tracing_enabled":           "TRACING_ENABLED",
	"rate_limit":                "RATE_LIMIT",
	"rate_limit_burst":          "RATE_LIMIT_BURST",
	"stream_keepalive":          "STREAM_KEEPALIVE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("visibility_timeout", 5*time.Minute)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("embedded_worker", false)
	v.SetDefault("event_transport", TransportLocal)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_channel", "genplane:job-events")
	v.SetDefault("artifact_dir", "./data/artifacts")
	v.SetDefault("engine_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("engine_model", "gemini-2.5-flash-image")
	v.SetDefault("engine_timeout", 3*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("rate_limit", 5.0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("stream_keepalive", 15*time.Second)
}

// Load reads configuration from the YAML file at path, or genplane.yaml in the
// working directory when path is empty, and the environment. Environment
// variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		// genplane.yaml in the working directory is optional.
		v.SetConfigName("genplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read genplane.yaml: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:             v.GetString("database_url"),
		HTTPPort:                v.GetInt("http_port"),
		WorkerID:                v.GetString("worker_id"),
		WorkerConcurrency:       v.GetInt("worker_concurrency"),
		WorkerPollInterval:      v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:        v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval: v.GetDuration("worker_heartbeat_interval"),
		VisibilityTimeout:       v.GetDuration("visibility_timeout"),
		MaxAttempts:             v.GetInt("max_attempts"),
		EmbeddedWorker:          v.GetBool("embedded_worker"),
		EventTransport:          strings.ToLower(strings.TrimSpace(v.GetString("event_transport"))),
		RedisAddr:               v.GetString("redis_addr"),
		RedisChannel:            v.GetString("redis_channel"),
		ArtifactDir:             v.GetString("artifact_dir"),
		EngineURL:               v.GetString("engine_url"),
		EngineAPIKey:            v.GetString("engine_api_key"),
		EngineModel:             v.GetString("engine_model"),
		EngineTimeout:           v.GetDuration("engine_timeout"),
		LogLevel:                v.GetString("log_level"),
		OTELEndpoint:            v.GetString("otel_endpoint"),
		TracingEnabled:          v.GetBool("tracing_enabled"),
		RateLimit:               v.GetFloat64("rate_limit"),
		RateLimitBurst:          v.GetInt("rate_limit_burst"),
		StreamKeepAlive:         v.GetDuration("stream_keepalive"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required (env: DATABASE_URL)"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid http_port %d", c.HTTPPort))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("worker_concurrency must be at least 1, got %d", c.WorkerConcurrency))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.VisibilityTimeout <= c.WorkerHeartbeatInterval {
		errs = append(errs, fmt.Errorf("visibility_timeout (%s) must exceed worker_heartbeat_interval (%s)", c.VisibilityTimeout, c.WorkerHeartbeatInterval))
	}
	switch c.EventTransport {
	case TransportLocal, TransportPostgres:
	case TransportRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis event transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid event_transport %q (want local, postgres or redis)", c.EventTransport))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit))
	}

	return errors.Join(errs...)
}
