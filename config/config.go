package config

import (
	"log/slog"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Caller identity configuration
//   - database.go: Database and Redis configuration
//   - http.go: HTTP server and rate limit configuration
//   - services.go: Service mode, worker, ingest and reaper configuration
//   - blob.go: Blob storage configuration
//   - llm.go: Classification model configuration
type AppConfig struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Caller identity configuration
	Auth AuthConfig

	// Storage configuration
	DB    DBConfig    `envPrefix:"DB_"`
	Redis RedisConfig `envPrefix:"REDIS_"`
	Blob  BlobConfig  `envPrefix:"BLOB_"`

	// HTTP server configuration
	HTTP      HTTPConfig
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,worker,reaper"`

	Worker WorkerConfig `envPrefix:"WORKER_"`
	Ingest IngestConfig `envPrefix:"INGEST_"`
	Reaper ReaperConfig
	LLM    LLMConfig `envPrefix:"LLM_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	c.DB.Sanitize()
	c.Blob.Sanitize()
	c.HTTP.Sanitize()
	c.RateLimit.Sanitize()
	c.Worker.Sanitize()
	c.Ingest.Sanitize()
	c.Reaper.Sanitize()
	c.LLM.Sanitize()
	c.Observability.Sanitize()
}

// SlogLevel maps LogLevel to a slog level. Unknown values read as info.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.isEnabled(ServiceModeHTTP)
}

// IsWorkerEnabled returns true if the job worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	return c.isEnabled(ServiceModeWorker)
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.isEnabled(ServiceModeReaper)
}

func (c *AppConfig) isEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
