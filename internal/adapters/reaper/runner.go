// Package reaper provides adapters for running the job reaper.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/observability/statsd"
	"github.com/target/docflow/internal/service"
)

// Runner provides a simple adapter to run the reaper loop.
// It constructs the reaper service and runs the cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Repo   core.JobRepository
	Config config.ReaperConfig
	Logger *slog.Logger

	// PerFileTimeout feeds the stale window floor.
	PerFileTimeout time.Duration

	// Optional. Retention defaults to Repo when the store supports purging.
	Retention core.JobRetention
	Blobs     core.BlobStore
	Metrics   statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:           opts.Repo,
		Retention:      opts.Retention,
		Blobs:          opts.Blobs,
		Config:         opts.Config,
		PerFileTimeout: opts.PerFileTimeout,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: reaper, logger: opts.Logger}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Repo == nil {
		return errors.New("job repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retention == nil {
		if r, ok := opts.Repo.(core.JobRetention); ok {
			opts.Retention = r
		} else {
			opts.Logger.Warn("job store cannot purge old jobs; retention cleanup disabled")
		}
	}
	return nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single sweep. The admin CLI uses it.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.reaper.RunOnce(ctx)
}
