package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion ingestion service.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool

	DatabaseURL string

	// Sessions not seen for this long are soft-expired by the sweep.
	SessionInactivityTimeout time.Duration
	SweepInterval            time.Duration

	CompletionURL    string
	CompletionAPIKey string
	PrimaryModel     string
	FallbackModel    string
	PrimaryTimeout   time.Duration
	FallbackTimeout  time.Duration
	CompletionTokens int
	Temperature      float64
	// WebhookDeadline is the outer budget before the caller gets the
	// generic "thinking" reply.
	WebhookDeadline time.Duration

	QueueInterval       time.Duration
	QueueBatchSize      int
	QueueMaxConcurrency int
	QueueMaxRetries     int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "murmur"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		CompletionURL:            trimmedEnv("COMPLETION_URL"),
		CompletionAPIKey:         trimmedEnv("COMPLETION_API_KEY"),
		PrimaryModel:             envOrDefault("COMPLETION_PRIMARY_MODEL", "companion-large"),
		FallbackModel:            envOrDefault("COMPLETION_FALLBACK_MODEL", "companion-mini"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 24 * time.Hour,
		SweepInterval:            10 * time.Minute,
		PrimaryTimeout:           10 * time.Second,
		FallbackTimeout:          5 * time.Second,
		WebhookDeadline:          12 * time.Second,
		CompletionTokens:         512,
		Temperature:              0.7,
		QueueInterval:            50 * time.Millisecond,
		QueueBatchSize:           50,
		QueueMaxConcurrency:      10,
		QueueMaxRetries:          3,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationFromEnv("APP_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.PrimaryTimeout, err = durationFromEnv("COMPLETION_PRIMARY_TIMEOUT", cfg.PrimaryTimeout); err != nil {
		return Config{}, err
	}
	if cfg.FallbackTimeout, err = durationFromEnv("COMPLETION_FALLBACK_TIMEOUT", cfg.FallbackTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WebhookDeadline, err = durationFromEnv("APP_WEBHOOK_DEADLINE", cfg.WebhookDeadline); err != nil {
		return Config{}, err
	}
	if cfg.QueueInterval, err = durationFromEnv("QUEUE_INTERVAL", cfg.QueueInterval); err != nil {
		return Config{}, err
	}
	if cfg.QueueBatchSize, err = intFromEnv("QUEUE_BATCH_SIZE", cfg.QueueBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.QueueMaxConcurrency, err = intFromEnv("QUEUE_MAX_CONCURRENCY", cfg.QueueMaxConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.QueueMaxRetries, err = intFromEnv("QUEUE_MAX_RETRIES", cfg.QueueMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.CompletionTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionTokens); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 1m")
	}
	if cfg.WebhookDeadline <= cfg.PrimaryTimeout {
		return Config{}, fmt.Errorf("APP_WEBHOOK_DEADLINE must exceed COMPLETION_PRIMARY_TIMEOUT")
	}
	if cfg.QueueBatchSize <= 0 {
		return Config{}, fmt.Errorf("QUEUE_BATCH_SIZE must be positive")
	}
	if cfg.QueueMaxConcurrency <= 0 {
		return Config{}, fmt.Errorf("QUEUE_MAX_CONCURRENCY must be positive")
	}
	if cfg.QueueMaxRetries < 0 {
		return Config{}, fmt.Errorf("QUEUE_MAX_RETRIES must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
