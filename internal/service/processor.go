package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/target/docflow/internal/core"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	obserrors "github.com/target/docflow/internal/observability/errors"
	"github.com/target/docflow/internal/observability/metrics"
	"github.com/target/docflow/internal/observability/notify"
	"github.com/target/docflow/internal/observability/statsd"
	"github.com/target/docflow/internal/service/failurenotifier"
)

const (
	// DefaultJobTimeout bounds a whole job run.
	DefaultJobTimeout = 30 * time.Minute
	// DefaultNoFileDataAttempts is how often references are re-read while uploads land.
	DefaultNoFileDataAttempts = 3
	// DefaultNoFileDataDelay separates those reads.
	DefaultNoFileDataDelay = 2 * time.Second
	// StagingDirName is the directory under the temp dir holding per-job local files.
	StagingDirName = "docflow_jobs"
)

// resultNotStored marks a finished job whose result could not be written. The store
// is the usual culprit, so it is retried like any other storage fault.
func resultNotStored(err error) error {
	if apperrors.GetCode(err) != "" {
		return fmt.Errorf("store job result: %w", err)
	}
	return apperrors.Unavailable(err, "store job result")
}

// filePipeline is the per-file stage the processor fans out to.
type filePipeline interface {
	Process(ctx context.Context, kind model.EndpointType, ref model.FileReference, llm *semaphore.Weighted) model.FileProcessingResult
}

// JobProcessorConfig tunes retries and timeouts of a job run.
type JobProcessorConfig struct {
	JobTimeout         time.Duration
	NoFileDataAttempts int
	NoFileDataDelay    time.Duration
	Retry              domainjob.RetryPolicy
	// StagingRoot is the parent of per-job staging dirs. Empty uses <tmp>/docflow_jobs.
	StagingRoot string
}

// JobProcessorOptions groups dependencies for JobProcessor.
type JobProcessorOptions struct {
	Repo            core.JobRepository // Required
	Pipeline        filePipeline       // Required
	Resolver        *FileReferenceResolver
	Config          JobProcessorConfig
	Logger          *slog.Logger
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service // Optional: notified when a job ends FAILED
}

// JobProcessor is the body of the worker for one claimed job.
type JobProcessor struct {
	repo     core.JobRepository
	pipeline filePipeline
	resolver *FileReferenceResolver
	cfg      JobProcessorConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	failures *failurenotifier.Service
}

// NewJobProcessor validates dependencies and applies defaults.
func NewJobProcessor(opts JobProcessorOptions) (*JobProcessor, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("file pipeline is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewFileReferenceResolver(logger)
	}
	cfg := opts.Config
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.NoFileDataAttempts <= 0 {
		cfg.NoFileDataAttempts = DefaultNoFileDataAttempts
	}
	if cfg.NoFileDataDelay <= 0 {
		cfg.NoFileDataDelay = DefaultNoFileDataDelay
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = domainjob.DefaultRetryPolicy()
	}
	if cfg.StagingRoot == "" {
		cfg.StagingRoot = filepath.Join(os.TempDir(), StagingDirName)
	}
	return &JobProcessor{
		repo:     opts.Repo,
		pipeline: opts.Pipeline,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "job_processor"),
		metrics:  opts.Metrics,
		failures: opts.FailureNotifier,
	}, nil
}

// StagingDir returns the local staging directory of a job.
func (p *JobProcessor) StagingDir(jobID string) string {
	return StagingDir(p.cfg.StagingRoot, jobID)
}

// StagingDir joins root and a job id, refusing ids that would escape root.
func StagingDir(root, jobID string) string {
	return filepath.Join(root, filepath.Base(filepath.Clean("/"+jobID)))
}

// Process runs a claimed job to COMPLETED or FAILED. Transient faults demote the job to
// READY, back off, and reclaim it, up to the retry policy's limit. The staging dir is
// removed once the job is terminal. The returned error is informational: the job row
// already reflects the outcome.
func (p *JobProcessor) Process(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("process job: nil job")
	}
	attempt := job.RetryCount
	for {
		start := time.Now()
		err := p.runGuarded(ctx, job)
		if err == nil {
			p.removeStaging(ctx, job.ID)
			metrics.EmitJobLifecycle(p.metrics, metrics.JobMetric{
				EndpointType: string(job.EndpointType),
				Transition:   metrics.TransitionCompleted,
				Result:       metrics.ResultSuccess,
				Duration:     time.Since(start),
			})
			return nil
		}
		if ctx.Err() != nil {
			// Shutdown: the job stays PROCESSING until the reaper reclaims it.
			return fmt.Errorf("process job %s: %w", job.ID, ctx.Err())
		}
		if errors.Is(err, model.ErrJobMoved) {
			// Reclaimed by the reaper and owned by another worker now. Its staging
			// files belong to that run.
			p.logger.WarnContext(ctx, "job moved on while processing, abandoning this run", "job_id", job.ID)
			return fmt.Errorf("process job %s: %w", job.ID, err)
		}

		decision := p.cfg.Retry.Decide(err, attempt)
		if !decision.Retry {
			p.fail(ctx, job, err, decision.Transient, time.Since(start))
			p.removeStaging(ctx, job.ID)
			return fmt.Errorf("process job %s: %w", job.ID, err)
		}

		attempt++
		p.logger.WarnContext(ctx, "transient job failure, demoting to ready",
			"job_id", job.ID,
			"attempt", attempt,
			"max_retries", p.cfg.Retry.MaxRetries,
			"delay", decision.Delay,
			"error", err,
		)
		demote := model.StatusUpdate(model.JobStatusReady).WithProgress(0, 0)
		demote.ClearError = true
		demote.RetryCount = &attempt
		if derr := p.repo.UpdateIf(ctx, job.ID, model.ClaimGuard(job), demote); derr != nil {
			if errors.Is(derr, model.ErrJobMoved) {
				p.logger.WarnContext(ctx, "job moved on before demotion", "job_id", job.ID)
				return fmt.Errorf("demote job %s: %w", job.ID, derr)
			}
			p.logger.ErrorContext(ctx, "demote job failed", "job_id", job.ID, "error", derr)
		}
		metrics.EmitJobLifecycle(p.metrics, metrics.JobMetric{
			EndpointType: string(job.EndpointType),
			Transition:   metrics.TransitionRetried,
			Result:       metrics.ResultError,
			Err:          err,
		})

		if !sleepCtx(ctx, decision.Delay) {
			return fmt.Errorf("process job %s: %w", job.ID, ctx.Err())
		}
		reclaimed, ok, cerr := p.repo.Claim(ctx, job.ID)
		if cerr != nil {
			return fmt.Errorf("reclaim job %s: %w", job.ID, cerr)
		}
		if !ok {
			p.logger.InfoContext(ctx, "job picked up by another worker after demotion", "job_id", job.ID)
			return nil
		}
		job = reclaimed
	}
}

func (p *JobProcessor) fail(ctx context.Context, job *model.Job, cause error, transient bool, elapsed time.Duration) {
	msg := "Job processing failed: " + cause.Error()
	upd := model.StatusUpdate(model.JobStatusFailed)
	upd.Error = &msg
	if err := p.repo.UpdateIf(ctx, job.ID, model.ClaimGuard(job), upd); err != nil {
		if errors.Is(err, model.ErrJobMoved) {
			p.logger.WarnContext(ctx, "job moved on, not marking it failed", "job_id", job.ID, "error", cause)
			return
		}
		p.logger.ErrorContext(ctx, "could not mark job failed", "job_id", job.ID, "error", err, "cause", cause)
	}
	p.logger.ErrorContext(ctx, "job failed",
		"job_id", job.ID,
		"endpoint_type", job.EndpointType,
		"transient", transient,
		"error", cause,
	)
	metrics.EmitJobLifecycle(p.metrics, metrics.JobMetric{
		EndpointType: string(job.EndpointType),
		Transition:   metrics.TransitionFailed,
		Result:       metrics.ResultError,
		Duration:     elapsed,
		Err:          cause,
	})
	if p.failures != nil {
		payload := notify.JobFailurePayload{
			JobID:        job.ID,
			EndpointType: string(job.EndpointType),
			TotalFiles:   job.TotalFiles,
			RetryCount:   job.RetryCount,
			Transient:    transient,
			Error:        msg,
			ErrorClass:   obserrors.Classify(cause),
			OccurredAt:   time.Now().UTC(),
		}
		if job.UserID != nil {
			payload.UserID = *job.UserID
		}
		p.failures.NotifyJobFailure(ctx, payload)
	}
}

// runGuarded turns a panic in the job body into a permanent error.
func (p *JobProcessor) runGuarded(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "panic while processing job", "job_id", job.ID, "panic", r)
			err = apperrors.Internalf("panic: %v", r)
		}
	}()
	return p.run(ctx, job)
}

func (p *JobProcessor) run(ctx context.Context, job *model.Job) error {
	start := time.Now()
	deadline := start.Add(p.cfg.JobTimeout)
	jobCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	guard := model.ClaimGuard(job)
	if err := p.write(ctx, job.ID, guard, model.StatusUpdate(model.JobStatusProcessing).WithProgress(0, 0)); err != nil {
		return err
	}

	refs, err := p.resolveWithRetry(ctx, job)
	if err != nil {
		return err
	}

	// The stored count may predate late references or come from an older row.
	total := len(refs)
	if err := p.write(ctx, job.ID, guard, model.StatusUpdate(model.JobStatusProcessing).
		WithProgress(0, 0).WithTotal(total)); err != nil {
		return err
	}

	tier := domainjob.LLMConcurrency(total)
	llm := semaphore.NewWeighted(int64(tier))
	results := make([]model.FileProcessingResult, total)

	p.logger.InfoContext(ctx, "processing job",
		"job_id", job.ID,
		"endpoint_type", job.EndpointType,
		"files", total,
		"llm_concurrency", tier,
	)

	var (
		mu        sync.Mutex
		processed int
		moved     error
	)
	completeOne := func() {
		mu.Lock()
		defer mu.Unlock()
		processed++
		if moved != nil {
			return
		}
		upd := model.StatusUpdate(model.JobStatusProcessing).
			WithProgress(processed, domainjob.Progress(processed, total)).
			WithTotal(total)
		if err := p.write(ctx, job.ID, guard, upd); err != nil {
			moved = err
			cancel()
		}
	}

	var g errgroup.Group
	g.SetLimit(2 * tier)
	for i, ref := range refs {
		g.Go(func() error {
			if time.Now().After(deadline) {
				results[i] = model.NewFailedFileResult(job.EndpointType, ref.Filename, model.FileStatusTimeout,
					"Job timeout exceeded before the file was processed")
			} else {
				results[i] = p.pipeline.Process(jobCtx, job.EndpointType, ref, llm)
			}
			completeOne()
			return nil
		})
	}
	_ = g.Wait()

	if moved != nil {
		return moved
	}
	if time.Now().After(deadline) {
		p.logger.WarnContext(ctx, "job exceeded its timeout", "job_id", job.ID, "timeout", p.cfg.JobTimeout)
	}

	result := model.NewJobResult(job.EndpointType, results, time.Since(start))
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	done := model.StatusUpdate(model.JobStatusCompleted).WithProgress(total, 100).WithTotal(total)
	done.Result = raw
	if err := p.repo.UpdateIf(ctx, job.ID, guard, done); err != nil {
		if errors.Is(err, model.ErrJobMoved) {
			return err
		}
		return resultNotStored(err)
	}

	p.logger.InfoContext(ctx, "job completed",
		"job_id", job.ID,
		"successful", result.Successful,
		"failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// write is a best-effort progress write fenced to the current claim. Only losing the
// job is reported; other store errors are logged and the run continues.
func (p *JobProcessor) write(ctx context.Context, jobID string, guard model.UpdateGuard, upd model.JobUpdate) error {
	err := p.repo.UpdateIf(ctx, jobID, guard, upd)
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrJobMoved) {
		return err
	}
	p.logger.WarnContext(ctx, "progress write failed", "job_id", jobID, "error", err)
	return nil
}

// resolveWithRetry re-reads the job while its references are missing. Uploads may still
// be landing when a worker first sees the job.
func (p *JobProcessor) resolveWithRetry(ctx context.Context, job *model.Job) ([]model.FileReference, error) {
	current := job
	var lastErr error
	for i := 1; i <= p.cfg.NoFileDataAttempts; i++ {
		refs, err := p.resolver.Resolve(ctx, current)
		if err == nil {
			return refs, nil
		}
		lastErr = err
		if !errors.Is(err, ErrNoFileData) || i == p.cfg.NoFileDataAttempts {
			break
		}
		p.logger.WarnContext(ctx, "no file data yet, retrying",
			"job_id", job.ID, "attempt", i, "delay", p.cfg.NoFileDataDelay)
		if !sleepCtx(ctx, p.cfg.NoFileDataDelay) {
			return nil, ctx.Err()
		}
		lr := p.repo.Get(ctx, job.ID, "")
		switch lr.Kind {
		case model.LookupFound:
			current = lr.Job
		case model.LookupTransientFailure:
			return nil, lr.Err
		case model.LookupNotFound:
			return nil, fmt.Errorf("job %s disappeared while processing", job.ID)
		default:
			p.logger.WarnContext(ctx, "re-read job failed", "job_id", job.ID, "error", lr.Err)
		}
	}
	return nil, lastErr
}

func (p *JobProcessor) removeStaging(ctx context.Context, jobID string) {
	if err := os.RemoveAll(p.StagingDir(jobID)); err != nil {
		p.logger.WarnContext(ctx, "remove staging dir", "job_id", jobID, "error", err)
	}
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
