package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the ingestion and job API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker loop.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs stale job reclaim and retention cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker configuration.
type WorkerConfig struct {
	// PollInterval is how long the worker sleeps when no ready-job notification arrives.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`

	// ClaimLimit is how many READY candidates one poll lists.
	ClaimLimit int `env:"CLAIM_LIMIT" envDefault:"10"`

	// MaxConcurrentJobs caps jobs processed at once by one worker.
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS" envDefault:"3"`

	JobTimeout     time.Duration `env:"JOB_TIMEOUT"      envDefault:"30m"`
	PerFileTimeout time.Duration `env:"PER_FILE_TIMEOUT" envDefault:"120s"`

	// ExtractionWorkers sizes the process-wide text extraction pool.
	ExtractionWorkers int `env:"EXTRACTION_WORKERS" envDefault:"4"`

	// NoFileDataAttempts is how often file references are re-read before a job fails.
	NoFileDataAttempts int           `env:"NO_FILE_DATA_ATTEMPTS" envDefault:"3"`
	NoFileDataDelay    time.Duration `env:"NO_FILE_DATA_DELAY"    envDefault:"2s"`

	// MaxRetries bounds transient retries per job.
	MaxRetries     int           `env:"MAX_RETRIES"      envDefault:"3"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`

	// StagingRoot is the parent of per-job staging directories.
	StagingRoot string `env:"STAGING_ROOT"`

	// Extraction tool paths.
	Pdftotext     string `env:"PDFTOTEXT_PATH"  envDefault:"pdftotext"`
	Tesseract     string `env:"TESSERACT_PATH"  envDefault:"tesseract"`
	TesseractLang string `env:"TESSERACT_LANG"  envDefault:"eng+nld+deu"`
	TessdataDir   string `env:"TESSDATA_PREFIX"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 5 * time.Second
	}
	if w.ClaimLimit < 1 {
		w.ClaimLimit = 10
	}
	if w.MaxConcurrentJobs < 1 {
		w.MaxConcurrentJobs = 1
	}
	if w.ClaimLimit < w.MaxConcurrentJobs {
		w.ClaimLimit = w.MaxConcurrentJobs
	}
	if w.JobTimeout <= 0 {
		w.JobTimeout = 30 * time.Minute
	}
	if w.PerFileTimeout <= 0 {
		w.PerFileTimeout = 120 * time.Second
	}
	if w.ExtractionWorkers < 1 {
		w.ExtractionWorkers = 1
	}
	if w.NoFileDataAttempts < 1 {
		w.NoFileDataAttempts = 1
	}
	if w.MaxRetries < 0 {
		w.MaxRetries = 0
	}
	if w.RetryBaseDelay <= 0 {
		w.RetryBaseDelay = time.Second
	}
	w.StagingRoot = strings.TrimSpace(w.StagingRoot)
	if w.StagingRoot == "" {
		w.StagingRoot = filepath.Join(os.TempDir(), "docflow_jobs")
	}
}

// IngestConfig contains upload limits for the submission endpoints.
type IngestConfig struct {
	MaxFiles      int   `env:"MAX_FILES"       envDefault:"30"`
	MaxFileBytes  int64 `env:"MAX_FILE_BYTES"  envDefault:"104857600"`  // 100MB
	MaxTotalBytes int64 `env:"MAX_TOTAL_BYTES" envDefault:"2097152000"` // 2000MB
	// UploadWorkers bounds concurrent blob uploads per submission.
	UploadWorkers int `env:"UPLOAD_WORKERS" envDefault:"2"`
}

// Sanitize applies guardrails to ingest configuration values.
func (c *IngestConfig) Sanitize() {
	if c.MaxFiles < 1 {
		c.MaxFiles = 30
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 100 << 20
	}
	if c.MaxTotalBytes < c.MaxFileBytes {
		c.MaxTotalBytes = c.MaxFileBytes
	}
	if c.UploadWorkers < 1 {
		c.UploadWorkers = 1
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// StaleAfter is how long a PROCESSING job may go without an update before it is
	// returned to READY. It is raised to at least twice the per-file timeout.
	StaleAfter time.Duration `env:"REAPER_STALE_AFTER" envDefault:"15m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion. Zero keeps them.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"0"`

	// FailedMaxAge is the maximum age for failed jobs before deletion. Zero keeps them.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"0"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.StaleAfter < time.Minute {
		r.StaleAfter = time.Minute
	}
	// Retention below an hour would purge results before callers poll them.
	if r.CompletedMaxAge > 0 && r.CompletedMaxAge < time.Hour {
		r.CompletedMaxAge = time.Hour
	}
	if r.FailedMaxAge > 0 && r.FailedMaxAge < time.Hour {
		r.FailedMaxAge = time.Hour
	}
	if r.CompletedMaxAge < 0 {
		r.CompletedMaxAge = 0
	}
	if r.FailedMaxAge < 0 {
		r.FailedMaxAge = 0
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
