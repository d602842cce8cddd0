// Package jobrunner provides the worker loop that claims READY jobs and hands them to the
// job processor.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/docflow/internal/core"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/observability/metrics"
	"github.com/target/docflow/internal/observability/statsd"
)

// Defaults for the poll cycle.
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultClaimLimit        = 10
	DefaultMaxConcurrentJobs = 3
)

// Processor runs one claimed job to a terminal state.
type Processor interface {
	Process(ctx context.Context, job *model.Job) error
}

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Repo      core.JobRepository // Required
	Processor Processor          // Required

	// Notifier wakes the loop early when a job becomes READY. Optional; without it the
	// loop polls.
	Notifier domainjob.Notifier

	PollInterval      time.Duration
	ClaimLimit        int
	MaxConcurrentJobs int

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner pulls READY jobs and executes them with the processor.
type Runner struct {
	repo         core.JobRepository
	processor    Processor
	notifier     domainjob.Notifier
	pollInterval time.Duration
	claimLimit   int
	maxJobs      int
	logger       *slog.Logger
	metrics      statsd.Sink
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// NewRunner validates options and applies defaults.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("job repository is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("job processor is required")
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	maxJobs := opts.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = DefaultMaxConcurrentJobs
	}
	limit := opts.ClaimLimit
	if limit <= 0 {
		limit = DefaultClaimLimit
	}
	if limit < maxJobs {
		limit = maxJobs
	}

	return &Runner{
		repo:         opts.Repo,
		processor:    opts.Processor,
		notifier:     opts.Notifier,
		pollInterval: poll,
		claimLimit:   limit,
		maxJobs:      maxJobs,
		logger:       resolveLogger(opts.Logger).With("component", "job_runner"),
		metrics:      opts.Metrics,
	}, nil
}

// Run polls for work until the context is cancelled. Jobs in flight are allowed to
// observe the cancellation; Run returns once they have.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"poll_interval", r.pollInterval,
		"claim_limit", r.claimLimit,
		"max_concurrent_jobs", r.maxJobs,
		"notifications", r.notifier != nil,
	)

	var notify <-chan struct{}
	if r.notifier != nil {
		unsub, ch := r.notifier.Subscribe()
		defer unsub()
		notify = ch
	}

	for {
		claimed, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			r.logger.InfoContext(ctx, "job runner stopping", "reason", ctx.Err())
			return nil
		}
		if err != nil {
			r.logger.ErrorContext(ctx, "poll cycle failed", "error", err)
		}
		if claimed > 0 && err == nil {
			continue
		}
		var ok bool
		if notify, ok = r.wait(ctx, notify); !ok {
			r.logger.InfoContext(ctx, "job runner stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// wait sleeps for the poll interval or until a ready notification arrives. A closed
// notification channel degrades to plain polling.
func (r *Runner) wait(ctx context.Context, notify <-chan struct{}) (<-chan struct{}, bool) {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return notify, false
	case <-timer.C:
		return notify, true
	case _, open := <-notify:
		if !open {
			r.logger.WarnContext(ctx, "ready notifications stopped, falling back to polling")
			return nil, true
		}
		return notify, true
	}
}

// RunOnce performs one poll cycle: list candidates, claim up to the concurrency limit,
// process the claimed jobs concurrently and wait for all of them. It returns how many
// jobs were claimed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	candidates, err := r.repo.ListClaimable(ctx, r.claimLimit)
	if err != nil {
		return 0, fmt.Errorf("list claimable jobs: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	claimed := make([]*model.Job, 0, r.maxJobs)
	for _, candidate := range candidates {
		if len(claimed) == r.maxJobs || ctx.Err() != nil {
			break
		}
		job, ok, err := r.repo.Claim(ctx, candidate.ID)
		if err != nil {
			r.logger.ErrorContext(ctx, "claim job failed", "job_id", candidate.ID, "error", err)
			metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
				EndpointType: string(candidate.EndpointType),
				Transition:   metrics.TransitionClaimed,
				Result:       metrics.ResultError,
				Err:          err,
			})
			continue
		}
		if !ok {
			// Another worker won the race.
			continue
		}
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			EndpointType: string(job.EndpointType),
			Transition:   metrics.TransitionClaimed,
			Result:       metrics.ResultSuccess,
		})
		claimed = append(claimed, job)
	}

	var g errgroup.Group
	for _, job := range claimed {
		g.Go(func() error {
			r.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return len(claimed), nil
}

func (r *Runner) process(ctx context.Context, job *model.Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "job handler panicked",
				"job_id", job.ID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()

	r.logger.InfoContext(ctx, "processing job",
		"job_id", job.ID,
		"endpoint_type", job.EndpointType,
		"total_files", job.TotalFiles,
		"retry_count", job.RetryCount,
	)
	if err := r.processor.Process(ctx, job); err != nil {
		r.logger.WarnContext(ctx, "job handler returned an error", "job_id", job.ID, "error", err)
	}
}
