package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/core"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	obserrors "github.com/target/docflow/internal/observability/errors"
	"github.com/target/docflow/internal/observability/metrics"
	"github.com/target/docflow/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo      core.JobRepository  // Required: job repository
	Retention core.JobRetention   // Optional: enables purging old terminal jobs
	Blobs     core.BlobStore      // Optional: blobs of purged jobs are deleted
	Config    config.ReaperConfig // Required: reaper configuration
	// PerFileTimeout raises the staleness window to at least twice its value.
	PerFileTimeout time.Duration
	Logger         *slog.Logger // Optional: structured logger
	Metrics        statsd.Sink  // Optional: metrics sink (StatsD-compatible)
	Now            func() time.Time
}

// ReaperService provides job housekeeping.
//
// This service manages:
// - Returning PROCESSING jobs abandoned by a dead worker to READY.
// - Deleting old completed jobs and their blobs.
// - Deleting old failed jobs and their blobs.
type ReaperService struct {
	repo      core.JobRepository
	retention core.JobRetention
	blobs     core.BlobStore
	config    config.ReaperConfig
	stale     *domainjob.StalePolicy
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}
	if opts.Config.BatchSize <= 0 {
		return nil, errors.New("reaper batch size must be positive")
	}
	stale, err := domainjob.NewStalePolicy(opts.Config.StaleAfter, opts.PerFileTimeout)
	if err != nil {
		return nil, fmt.Errorf("create stale policy: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	decision := stale.Resolve()
	if decision.Raised() {
		logger.Warn("stale window raised to twice the per-file timeout",
			"configured", opts.Config.StaleAfter,
			"effective", decision.Window,
		)
	}
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"stale_after", decision.Window,
		"completed_max_age", opts.Config.CompletedMaxAge,
		"failed_max_age", opts.Config.FailedMaxAge,
	)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ReaperService{
		repo:      opts.Repo,
		retention: opts.Retention,
		blobs:     opts.Blobs,
		config:    opts.Config,
		stale:     stale,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Add jitter so several reapers started together do not sweep in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// RunOnce performs one sweep: reclaim stale jobs, then purge old terminal jobs.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.reclaimStaleJobs,
			label:     "reclaim stale processing jobs",
			count:     &metricsData.ReclaimedCount,
			metricErr: &metricsData.ReclaimedErr,
		},
		{
			fn:        s.purgeOldCompletedJobs,
			label:     "delete old completed jobs",
			count:     &metricsData.CompletedCount,
			metricErr: &metricsData.CompletedErr,
		},
		{
			fn:        s.purgeOldFailedJobs,
			label:     "delete old failed jobs",
			count:     &metricsData.FailedCount,
			metricErr: &metricsData.FailedErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// reclaimStaleJobs demotes PROCESSING jobs whose worker stopped writing progress.
// Loops until a batch comes back short.
func (s *ReaperService) reclaimStaleJobs(ctx context.Context) (int64, error) {
	cutoff := s.stale.Cutoff(s.now())
	var totalCount int64
	for {
		count, err := s.repo.ReclaimStale(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count < int64(s.config.BatchSize) {
			break
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 {
		s.logger.InfoContext(ctx, "reclaimed stale processing jobs",
			"count", totalCount,
			"cutoff", cutoff,
		)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: metrics.TransitionReclaimed,
			Result:     metrics.ResultSuccess,
		})
	}
	return totalCount, nil
}

func (s *ReaperService) purgeOldCompletedJobs(ctx context.Context) (int64, error) {
	return s.purgeTerminal(ctx, model.JobStatusCompleted, s.config.CompletedMaxAge)
}

func (s *ReaperService) purgeOldFailedJobs(ctx context.Context) (int64, error) {
	return s.purgeTerminal(ctx, model.JobStatusFailed, s.config.FailedMaxAge)
}

// purgeTerminal deletes jobs in status older than maxAge together with their blobs.
// A zero maxAge or a store without retention support disables it.
func (s *ReaperService) purgeTerminal(ctx context.Context, status model.JobStatus, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 || s.retention == nil {
		return 0, nil
	}
	params := core.RetentionParams{
		Status:    status,
		OlderThan: s.now().Add(-maxAge),
		Limit:     s.config.BatchSize,
	}
	var totalCount int64
	for {
		jobs, err := s.retention.PurgeTerminal(ctx, params)
		if err != nil {
			return totalCount, err
		}
		totalCount += int64(len(jobs))
		s.deleteBlobs(ctx, jobs)
		if len(jobs) < params.Limit {
			break
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 {
		s.logger.InfoContext(ctx, "deleted old jobs",
			"status", status,
			"count", totalCount,
			"max_age", maxAge,
		)
	}
	return totalCount, nil
}

func (s *ReaperService) deleteBlobs(ctx context.Context, jobs []*model.Job) {
	if s.blobs == nil {
		return
	}
	resolver := NewFileReferenceResolver(s.logger)
	for _, job := range jobs {
		refs, err := resolver.Resolve(ctx, job)
		if err != nil {
			continue
		}
		for _, locator := range model.BlobLocators(refs) {
			if err := s.blobs.Delete(ctx, locator); err != nil {
				s.logger.WarnContext(ctx, "delete blob of purged job", "job_id", job.ID, "locator", locator, "error", err)
			}
		}
	}
}

type cleanupMetrics struct {
	ReclaimedCount int64
	ReclaimedErr   error
	CompletedCount int64
	CompletedErr   error
	FailedCount    int64
	FailedErr      error
	Elapsed        time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.ReclaimedCount + m.CompletedCount + m.FailedCount
	firstErr := firstError(m.ReclaimedErr, m.CompletedErr, m.FailedErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("reclaim_stale", m.ReclaimedCount, m.ReclaimedErr)
	s.emitCleanupOperationMetric("purge_completed", m.CompletedCount, m.CompletedErr)
	s.emitCleanupOperationMetric("purge_failed", m.FailedCount, m.FailedErr)

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
