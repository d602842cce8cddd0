package data

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/docflow/internal/domain/model"
)

// DefaultReadyNotifyChannel is the Postgres NOTIFY channel for READY jobs.
const DefaultReadyNotifyChannel = "docflow_jobs_ready"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
	// NotifyChannel overrides DefaultReadyNotifyChannel.
	NotifyChannel string
}

// JobRepo stores jobs in Postgres through the pgx stdlib bridge.
type JobRepo struct {
	DB            *sql.DB
	timeProvider  TimeProvider
	logger        *slog.Logger
	notifyChannel string
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	channel := cfg.NotifyChannel
	if channel == "" {
		channel = DefaultReadyNotifyChannel
	}

	return &JobRepo{
		DB:            db,
		timeProvider:  tp,
		logger:        logger.With("component", "job_repo"),
		notifyChannel: channel,
	}
}

const jobColumns = `
  id::text,
  status,
  endpoint_type,
  document_id,
  batch_id,
  total_files,
  processed_files,
  progress,
  result,
  error,
  user_id,
  retry_count,
  file_storage_urls,
  file_urls,
  file_data,
  claimed_at,
  created_at,
  updated_at
`

// scanJob is a pgx.RowToFunc for jobColumns. Status strings are mapped through
// ParseJobStatus so legacy rows surface as current states. The JSONB reference
// columns are decoded by pgx into native Go values and handed to the resolver as-is.
func scanJob(row pgx.CollectableRow) (*model.Job, error) {
	var (
		job        model.Job
		status     string
		endpoint   string
		result     []byte
		storageRaw any
		locators   []string
		legacyRaw  any
		claimedAt  *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&endpoint,
		&job.DocumentID,
		&job.BatchID,
		&job.TotalFiles,
		&job.ProcessedFiles,
		&job.Progress,
		&result,
		&job.Error,
		&job.UserID,
		&job.RetryCount,
		&storageRaw,
		&locators,
		&legacyRaw,
		&claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := model.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	job.Status = parsed
	job.EndpointType = model.EndpointType(endpoint)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if claimedAt != nil {
		t := claimedAt.UTC()
		job.ClaimedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.Files = model.RawFileSources{
		Metadata: storageRaw,
		Locators: locators,
		Legacy:   legacyRaw,
	}
	return &job, nil
}
