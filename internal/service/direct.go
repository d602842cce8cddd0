package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/observability/statsd"
)

// DirectServiceOptions groups dependencies for DirectService.
type DirectServiceOptions struct {
	Pipeline filePipeline // Required
	// Limits shares the submission limits of the queued routes.
	Limits IngestConfig
	// Timeout bounds one request. Zero uses DefaultJobTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// DirectService runs uploads through the file pipeline inside the request. No job row
// is written; callers wait for the result.
type DirectService struct {
	pipeline filePipeline
	limits   IngestConfig
	timeout  time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewDirectService validates dependencies and applies defaults.
func NewDirectService(opts DirectServiceOptions) (*DirectService, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("file pipeline is required")
	}
	limits := opts.Limits
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = DefaultMaxFilesPerRequest
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = DefaultMaxFileBytes
	}
	if limits.MaxTotalBytes <= 0 {
		limits.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if limits.StagingRoot == "" {
		limits.StagingRoot = filepath.Join(os.TempDir(), StagingDirName)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectService{
		pipeline: opts.Pipeline,
		limits:   limits,
		timeout:  timeout,
		logger:   logger.With("component", "direct_service"),
		metrics:  opts.Metrics,
	}, nil
}

// Limits returns the effective upload limits.
func (s *DirectService) Limits() IngestConfig { return s.limits }

// Run processes files in parallel under the same LLM concurrency tiers as a queued job.
// One file failing never fails the others.
func (s *DirectService) Run(ctx context.Context, kind model.EndpointType, files []UploadedFile) (*model.JobResult, error) {
	if err := validateUploads(s.limits, kind, files); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dir := StagingDir(s.limits.StagingRoot, "direct-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create request staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.WarnContext(ctx, "remove request staging dir", "path", dir, "error", err)
		}
	}()

	refs := make([]model.FileReference, len(files))
	for i, f := range files {
		p := filepath.Join(dir, stagedName(i, f.Filename))
		if err := os.WriteFile(p, f.Data, 0o600); err != nil {
			return nil, fmt.Errorf("stage %s: %w", f.Filename, err)
		}
		size := int64(len(f.Data))
		refs[i] = model.FileReference{Filename: f.Filename, Locator: p, Suffix: path.Ext(f.Filename), Size: &size}
	}

	tier := domainjob.LLMConcurrency(len(refs))
	llm := semaphore.NewWeighted(int64(tier))
	results := make([]model.FileProcessingResult, len(refs))
	var g errgroup.Group
	g.SetLimit(2 * tier)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = s.pipeline.Process(ctx, kind, ref, llm)
			return nil
		})
	}
	_ = g.Wait()

	result := model.NewJobResult(kind, results, time.Since(start))
	if s.metrics != nil {
		s.metrics.Count("direct.requests", 1, map[string]string{"endpoint_type": string(kind)})
		s.metrics.Count("direct.files", int64(len(files)), map[string]string{"endpoint_type": string(kind)})
	}
	s.logger.InfoContext(ctx, "direct request processed",
		"endpoint_type", kind,
		"files", len(files),
		"successful", result.Successful,
		"failed", result.Failed,
	)
	return &result, nil
}
