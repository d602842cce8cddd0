package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo      core.JobRepository  // Required: job repository
	Blobs     core.BlobStore      // Optional: blobs are left in place when nil
	Publisher core.ReadyPublisher // Optional: announces reset jobs
	Resolver  *FileReferenceResolver
	// StagingRoot is where per-job local files live. Empty uses <tmp>/docflow_jobs.
	StagingRoot string
	Logger      *slog.Logger
}

// JobService is the status API over stored jobs: reads, listings, reset and delete.
type JobService struct {
	repo        core.JobRepository
	blobs       core.BlobStore
	publisher   core.ReadyPublisher
	resolver    *FileReferenceResolver
	stagingRoot string
	logger      *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewFileReferenceResolver(logger)
	}
	root := opts.StagingRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), StagingDirName)
	}
	return &JobService{
		repo:        opts.Repo,
		blobs:       opts.Blobs,
		publisher:   opts.Publisher,
		resolver:    resolver,
		stagingRoot: root,
		logger:      logger.With("component", "job_service"),
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// GetJob returns the job visible to owner. An empty owner sees every job.
func (s *JobService) GetJob(ctx context.Context, id, owner string) (*model.Job, error) {
	lr := s.repo.Get(ctx, id, owner)
	switch lr.Kind {
	case model.LookupFound:
		return lr.Job, nil
	case model.LookupNotFound:
		return nil, apperrors.NotFoundf("Job %s not found", id)
	case model.LookupTransientFailure:
		return nil, apperrors.Unavailable(lr.Err, "Job store is temporarily unavailable")
	default:
		return nil, fmt.Errorf("get job %s: %w", id, lr.Err)
	}
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (s *JobService) ListJobsByOwner(ctx context.Context, opts model.ListByOwnerOptions) ([]*model.Job, error) {
	if opts.Owner == "" {
		return nil, apperrors.ValidationField("user_id", "User ID is required")
	}
	opts.Normalize()
	jobs, err := s.repo.ListByOwner(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", opts.Owner, err)
	}
	return jobs, nil
}

// ResetFailedJob moves a FAILED job back to READY. It reports false when the job is
// missing or not FAILED.
func (s *JobService) ResetFailedJob(ctx context.Context, id string) (bool, error) {
	ok, err := s.repo.ResetFailed(ctx, id)
	if err != nil {
		return false, fmt.Errorf("reset job %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	s.logger.InfoContext(ctx, "failed job reset", "job_id", id)
	if s.publisher != nil {
		if err := s.publisher.PublishReady(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "publish job ready failed", "job_id", id, "error", err)
		}
	}
	return true, nil
}

// DeleteJob removes the row, then every blob the job references and its staging dir.
// Blob failures are logged; the row is already gone. A non-empty owner restricts the
// delete to their own jobs.
func (s *JobService) DeleteJob(ctx context.Context, id, owner string) (bool, error) {
	lr := s.repo.Get(ctx, id, owner)
	switch lr.Kind {
	case model.LookupFound:
	case model.LookupNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("load job %s for delete: %w", id, lr.Err)
	}

	refs, err := s.resolver.Resolve(ctx, lr.Job)
	if err != nil && !errors.Is(err, ErrNoFileData) {
		s.logger.WarnContext(ctx, "resolve references for delete", "job_id", id, "error", err)
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	if !deleted {
		return false, nil
	}

	if s.blobs != nil {
		for _, locator := range model.BlobLocators(refs) {
			if err := s.blobs.Delete(ctx, locator); err != nil {
				s.logger.WarnContext(ctx, "delete blob failed", "job_id", id, "locator", locator, "error", err)
			}
		}
	}
	if err := os.RemoveAll(StagingDir(s.stagingRoot, id)); err != nil {
		s.logger.WarnContext(ctx, "remove staging dir", "job_id", id, "error", err)
	}
	s.logger.InfoContext(ctx, "job deleted", "job_id", id, "files", len(refs))
	return true, nil
}

// Stats counts jobs per status.
func (s *JobService) Stats(ctx context.Context) (model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}
