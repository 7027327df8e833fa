// Package config loads the worker's configuration through the teacher's
// three-layer precedence: defaults, then an optional JSON file, then
// environment variables (cmd/worker flags apply last, on top of this).
// Trimmed from the teacher's internal/config/config.go: the Firecracker,
// Docker, Postgres, GRPC, Auth, RateLimit, and Secrets sections have no
// analog in a broker-driven worker and are dropped (see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AMQPConfig holds broker connection and queue settings (spec §6).
type AMQPConfig struct {
	URL      string `json:"url"`
	InQueue  string `json:"in_queue"`
	OutQueue string `json:"out_queue"`
}

// WorkerConfig holds dispatch mode and concurrency settings.
type WorkerConfig struct {
	Mode        string `json:"mode"` // "infinite" or "one-shot"
	Concurrency int    `json:"concurrency"`
}

// HealthConfig holds the health endpoint's bind address.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Addr returns the "host:port" listen address.
func (h HealthConfig) Addr() string {
	return h.Host + ":" + strconv.Itoa(h.Port)
}

// TracingConfig holds OpenTelemetry tracing settings, unchanged in shape
// from the teacher's equivalent.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// ObservabilityConfig groups the ambient observability stack.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// RedisConfig configures the optional retry-wake interrupter
// (internal/notify). Empty Addr disables it.
type RedisConfig struct {
	Addr string `json:"addr"`
	DB   int    `json:"db"`
}

// Config is the central configuration struct.
type Config struct {
	AMQP          AMQPConfig          `json:"amqp"`
	Worker        WorkerConfig        `json:"worker"`
	Health        HealthConfig        `json:"health"`
	Observability ObservabilityConfig `json:"observability"`
	Redis         RedisConfig         `json:"redis"`
}

// DefaultConfig returns a Config with the defaults documented by the
// original worker (5 concurrent handlers, health check on 127.0.0.1:8000).
func DefaultConfig() *Config {
	return &Config{
		AMQP: AMQPConfig{
			URL:      "",
			InQueue:  "",
			OutQueue: "",
		},
		Worker: WorkerConfig{
			Mode:        "infinite",
			Concurrency: 5,
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8000,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "taskworker",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "taskworker",
				HistogramBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
		Redis: RedisConfig{},
	}
}

// LoadFromFile loads configuration from a JSON file, applied on top of
// DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides, matching the
// original worker's exact variable names (BROKER_URL, IN_QUEUE_NAME,
// OUT_QUEUE_NAME, WORKER_CONCURRENCY) plus the ambient-stack variables the
// teacher's own daemons read.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BROKER_URL"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := os.Getenv("IN_QUEUE_NAME"); v != "" {
		cfg.AMQP.InQueue = v
	}
	if v := os.Getenv("OUT_QUEUE_NAME"); v != "" {
		cfg.AMQP.OutQueue = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("WORKER_MODE"); v != "" {
		cfg.Worker.Mode = v
	}

	if v := os.Getenv("HEALTH_CHECK_ENABLED"); v != "" {
		cfg.Health.Enabled = parseBool(v)
	}
	if v := os.Getenv("HEALTH_CHECK_HOST"); v != "" {
		cfg.Health.Host = v
	}
	if v := os.Getenv("HEALTH_CHECK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.Port = n
		}
	}

	if v := os.Getenv("TASKWORKER_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("TASKWORKER_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("TASKWORKER_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("TASKWORKER_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("TASKWORKER_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("TASKWORKER_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("TASKWORKER_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}

	if v := os.Getenv("TASKWORKER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TASKWORKER_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// ValidationError reports a configuration problem caught before the worker
// ever attempts to dial the broker. cmd/worker maps this to exit code 2,
// distinct from the exit code 1 used for broker/runtime failures (spec §6).
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Validate checks that the configuration is complete enough to attempt a
// broker connection, returning a *ValidationError on the first problem
// found.
func (c *Config) Validate() error {
	if c.AMQP.URL == "" {
		return &ValidationError{Field: "amqp.url", Msg: "required (set --broker-url, BROKER_URL, or amqp.url in the config file)"}
	}
	if c.AMQP.InQueue == "" {
		return &ValidationError{Field: "amqp.in_queue", Msg: "required"}
	}
	if c.AMQP.OutQueue == "" {
		return &ValidationError{Field: "amqp.out_queue", Msg: "required"}
	}
	if c.Worker.Concurrency < 1 {
		return &ValidationError{Field: "worker.concurrency", Msg: "must be >= 1"}
	}
	if !strings.EqualFold(c.Worker.Mode, "infinite") && !strings.EqualFold(c.Worker.Mode, "one-shot") {
		return &ValidationError{Field: "worker.mode", Msg: `must be "infinite" or "one-shot"`}
	}
	if c.Health.Enabled && c.Health.Port <= 0 {
		return &ValidationError{Field: "health.port", Msg: "must be > 0 when health.enabled is true"}
	}
	return nil
}

// EffectiveMode translates WORKER_CONCURRENCY / WORKER_MODE into a plain
// (concurrency, oneShot) tuple for the caller to build a task.Mode from —
// kept as plain values here, rather than importing internal/task, to avoid
// a config->task->config import cycle.
func (c *Config) EffectiveMode() (concurrency int, oneShot bool) {
	return c.Worker.Concurrency, strings.EqualFold(c.Worker.Mode, "one-shot")
}
