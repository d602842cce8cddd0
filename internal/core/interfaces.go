package core

import (
	"context"
	"time"

	"github.com/target/docflow/internal/domain/model"
)

// This file contains the ports between the job pipeline and its adapters.
// Services depend on these interfaces, never on concrete stores or clients.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	// Get reads one job. A non-empty owner hides rows owned by someone else.
	Get(ctx context.Context, id, owner string) model.LookupResult
	// Update merges the given fields and refreshes updated_at. Failures are
	// logged and reported as false.
	Update(ctx context.Context, id string, upd model.JobUpdate) bool
	// UpdateIf merges upd only while guard still holds. An illegal status change is a
	// validation AppError; a job that moved on is a conflict wrapping model.ErrJobMoved.
	UpdateIf(ctx context.Context, id string, guard model.UpdateGuard, upd model.JobUpdate) error
	// Claim moves a READY job to PROCESSING. claimed is false when another
	// worker won the race or the job is no longer READY.
	Claim(ctx context.Context, id string) (job *model.Job, claimed bool, err error)
	ListClaimable(ctx context.Context, limit int) ([]*model.Job, error)
	ListByOwner(ctx context.Context, opts model.ListByOwnerOptions) ([]*model.Job, error)
	WriteFileReferences(ctx context.Context, id string, refs []model.FileReference) error
	ResetFailed(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	ReclaimStale(ctx context.Context, olderThan time.Time, limit int) (int64, error)
	Stats(ctx context.Context) (model.JobStats, error)
}

// RetentionParams selects terminal jobs old enough to be purged.
type RetentionParams struct {
	Status    model.JobStatus
	OlderThan time.Time
	Limit     int
}

// JobRetention is implemented by stores that can purge old terminal jobs.
// It returns the deleted jobs so their blobs can be removed.
type JobRetention interface {
	PurgeTerminal(ctx context.Context, params RetentionParams) ([]*model.Job, error)
}

// BlobStore stores uploaded file bytes.
type BlobStore interface {
	// Upload stores data under "<jobID>/<sanitized filename>" and returns that locator.
	Upload(ctx context.Context, jobID, filename string, data []byte) (string, error)
	// SignedURL returns a time-limited download URL for locator.
	SignedURL(ctx context.Context, locator string, ttl time.Duration) (string, error)
	// Download returns the bytes behind a locator or an http(s) URL.
	Download(ctx context.Context, locatorOrURL string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}

// Extractor turns file bytes into plain text. path carries the filename and suffix.
type Extractor interface {
	Extract(ctx context.Context, path string, data []byte) (string, error)
}

// Classifier routes extracted text. It never fails: exhausted retries and invalid
// responses yield the ARCHIVE default.
type Classifier interface {
	Classify(ctx context.Context, text string) model.Classification
}

// Analyzer produces a structured analysis. Same contract as Classifier.
type Analyzer interface {
	Analyze(ctx context.Context, text string, hints model.AnalyzeHints) model.Analysis
}

// ReadyPublisher announces that a job became READY.
type ReadyPublisher interface {
	PublishReady(ctx context.Context, jobID string) error
}

// RateLimiter counts hits per key inside a fixed window.
type RateLimiter interface {
	// Allow records one hit and reports whether the key is still under limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
