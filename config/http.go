package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://docflow.example.com").
	// Used for job links in failure notifications.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	// WriteTimeout bounds multipart uploads, which can be large.
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"5m"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"     envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// SyncRoutes serves /classify-documents, /analyze-multiple and /analyze, which run the
	// pipeline inside the request. They need the LLM settings on the HTTP process.
	SyncRoutes bool `env:"HTTP_SYNC_ROUTES" envDefault:"true"`
	// SyncTimeout bounds one synchronous request.
	SyncTimeout time.Duration `env:"HTTP_SYNC_TIMEOUT" envDefault:"30m"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 5 * time.Minute
	}
	if h.IdleTimeout <= 0 {
		h.IdleTimeout = 2 * time.Minute
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 30 * time.Second
	}
	if h.SyncTimeout <= 0 {
		h.SyncTimeout = 30 * time.Minute
	}
}

// RateLimitConfig caps submissions per caller per window. Zero disables a limit.
type RateLimitConfig struct {
	Enabled bool          `env:"ENABLED"  envDefault:"true"`
	Window  time.Duration `env:"WINDOW"   envDefault:"1m"`
	// ClassifyPerWindow applies to POST /classify-documents-async and /classify-documents.
	ClassifyPerWindow int `env:"CLASSIFY" envDefault:"25"`
	// AnalyzePerWindow applies to POST /analyze-multiple-async and /analyze-multiple.
	AnalyzePerWindow int `env:"ANALYZE" envDefault:"7"`
	// AnalyzeSinglePerWindow applies to POST /analyze.
	AnalyzeSinglePerWindow int `env:"ANALYZE_SINGLE" envDefault:"12"`
}

// Sanitize applies guardrails to rate limit values.
func (r *RateLimitConfig) Sanitize() {
	if r.Window < time.Second {
		r.Window = time.Minute
	}
	if r.ClassifyPerWindow < 0 {
		r.ClassifyPerWindow = 0
	}
	if r.AnalyzePerWindow < 0 {
		r.AnalyzePerWindow = 0
	}
	if r.AnalyzeSinglePerWindow < 0 {
		r.AnalyzeSinglePerWindow = 0
	}
}
