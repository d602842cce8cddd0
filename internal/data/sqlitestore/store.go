// Package sqlitestore implements the job repository on SQLite for single-node runs and tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/data"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/migrate"
)

// timeLayout is fixed width so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a core.JobRepository backed by SQLite.
type Store struct {
	db     *sql.DB
	clock  data.TimeProvider
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Path is a filesystem path or ":memory:".
	Path         string
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// Open opens (creating if needed) the database at opts.Path and applies migrations.
// A single connection is used, so writes are serialized in-process.
func Open(ctx context.Context, opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate.RunDialect(ctx, db, migrate.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return New(db, opts), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, opts Options) *Store {
	clock := opts.TimeProvider
	if clock == nil {
		clock = data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, clock: clock, logger: logger.With("component", "sqlite_job_store")}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() string { return formatTime(s.clock.Now()) }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

const jobColumns = `id, status, endpoint_type, document_id, batch_id, total_files, processed_files,
	progress, result, error, user_id, retry_count, file_storage_urls, file_urls, file_data,
	claimed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(sc rowScanner) (*model.Job, error) {
	var (
		job                                   model.Job
		status, endpoint, created, updated    string
		documentID, batchID, result, errMsg   sql.NullString
		userID, storageRaw, locatorsRaw, lgcy sql.NullString
		claimed                               sql.NullString
	)
	if err := sc.Scan(
		&job.ID, &status, &endpoint, &documentID, &batchID,
		&job.TotalFiles, &job.ProcessedFiles, &job.Progress,
		&result, &errMsg, &userID, &job.RetryCount,
		&storageRaw, &locatorsRaw, &lgcy,
		&claimed, &created, &updated,
	); err != nil {
		return nil, err
	}

	parsed, err := model.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	job.Status = parsed
	job.EndpointType = model.EndpointType(endpoint)
	job.DocumentID = nullString(documentID)
	job.BatchID = nullString(batchID)
	job.Error = nullString(errMsg)
	job.UserID = nullString(userID)
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	if job.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if claimed.Valid {
		t, perr := time.Parse(timeLayout, claimed.String)
		if perr != nil {
			return nil, fmt.Errorf("parse claimed_at: %w", perr)
		}
		job.ClaimedAt = &t
	}

	if storageRaw.Valid {
		job.Files.Metadata = storageRaw.String
	}
	if locatorsRaw.Valid && locatorsRaw.String != "" {
		if err := json.Unmarshal([]byte(locatorsRaw.String), &job.Files.Locators); err != nil {
			return nil, fmt.Errorf("decode file_urls: %w", err)
		}
	}
	if lgcy.Valid {
		job.Files.Legacy = lgcy.String
	}
	return &job, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// inList renders "?, ?, ?" for n placeholders and returns vals as []any.
func inList(vals []string) (string, []any) {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", "), args
}

// Create inserts a job with zeroed counters. The status defaults to CREATED.
func (s *Store) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, data.ErrCreateRequestRequired
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid create job request")
	}
	status := req.InitialStatus
	if status == "" {
		status = model.JobStatusCreated
	}
	now := s.now()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, status, endpoint_type, document_id, batch_id, total_files, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+jobColumns,
		uuid.NewString(), string(status), string(req.EndpointType), req.DocumentID, req.BatchID,
		req.TotalFiles, req.UserID, now, now,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// Get reads one job. Rows owned by someone else read as NotFound.
func (s *Store) Get(ctx context.Context, id, owner string) model.LookupResult {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFound()
	}
	if err != nil {
		mapped := fmt.Errorf("get job %s: %w", id, apperrors.MapDBError(err))
		if apperrors.IsUnavailable(mapped) || apperrors.IsTimeout(mapped) {
			return model.LookupResult{Kind: model.LookupTransientFailure, Err: mapped}
		}
		return model.LookupResult{Kind: model.LookupPermanentFailure, Err: mapped}
	}
	if owner != "" && !job.OwnedBy(owner) {
		return model.NotFound()
	}
	return model.Found(job)
}

// updateSets renders the SET list for the non-nil fields of upd. updated_at is always set.
func (s *Store) updateSets(upd model.JobUpdate) ([]string, []any) {
	sets := []string{"updated_at = ?"}
	args := []any{s.now()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Result != nil {
		add("result", string(upd.Result))
	}
	switch {
	case upd.Error != nil:
		add("error", *upd.Error)
	case upd.ClearError:
		sets = append(sets, "error = NULL")
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.ProcessedFiles != nil {
		add("processed_files", *upd.ProcessedFiles)
	}
	if upd.TotalFiles != nil {
		add("total_files", *upd.TotalFiles)
	}
	if upd.RetryCount != nil {
		add("retry_count", *upd.RetryCount)
	}
	return sets, args
}

// Update merges the provided fields and refreshes updated_at. Errors are logged and
// reported as false.
func (s *Store) Update(ctx context.Context, id string, upd model.JobUpdate) bool {
	sets, args := s.updateSets(upd)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "update job failed", "job_id", id, "error", apperrors.MapDBError(err))
		return false
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		s.logger.WarnContext(ctx, "update matched no job", "job_id", id)
		return false
	}
	return true
}

// UpdateIf applies upd only while guard holds. An illegal status change is a validation
// error; a job that moved on is a conflict wrapping model.ErrJobMoved.
func (s *Store) UpdateIf(ctx context.Context, id string, guard model.UpdateGuard, upd model.JobUpdate) error {
	if err := domainjob.CheckGuardedUpdate(guard, upd); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	sets, args := s.updateSets(upd)
	in, statusArgs := inList(guard.Status.StoredNames())
	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status IN (" + in + ")"
	args = append(args, id)
	args = append(args, statusArgs...)
	if guard.ClaimedAt != nil {
		query += " AND claimed_at = ?"
		args = append(args, formatTime(*guard.ClaimedAt))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s rows affected: %w", id, err)
	}
	if n == 0 {
		return data.JobMovedError(id)
	}
	return nil
}

// Claim atomically moves a READY job to PROCESSING. Losing the race is not an error.
func (s *Store) Claim(ctx context.Context, id string) (*model.Job, bool, error) {
	in, statusArgs := inList(model.JobStatusReady.StoredNames())
	now := s.now()
	args := append([]any{now, now, id}, statusArgs...)

	job, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing', claimed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (`+in+`)
		RETURNING `+jobColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim job %s: %w", id, apperrors.MapDBError(err))
	}
	return job, true, nil
}

// ListClaimable returns READY jobs, oldest first.
func (s *Store) ListClaimable(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	in, args := inList(model.JobStatusReady.StoredNames())
	args = append(args, limit)
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status IN (`+in+`) ORDER BY created_at ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list claimable jobs: %w", err)
	}
	return jobs, nil
}

// ListByOwner returns the owner's jobs, newest first, optionally filtered by status.
func (s *Store) ListByOwner(ctx context.Context, opts model.ListByOwnerOptions) ([]*model.Job, error) {
	opts.Normalize()
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ?`
	args := []any{opts.Owner}
	if opts.Status != nil {
		in, statusArgs := inList(opts.Status.StoredNames())
		query += ` AND status IN (` + in + `)`
		args = append(args, statusArgs...)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, opts.Limit)

	jobs, err := s.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs for owner: %w", err)
	}
	return jobs, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return jobs, nil
}

// WriteFileReferences stores the full metadata and simple locator columns in one statement.
func (s *Store) WriteFileReferences(ctx context.Context, id string, refs []model.FileReference) error {
	if id == "" {
		return data.ErrJobIDRequired
	}
	meta, locators, err := data.EncodeFileReferences(refs)
	if err != nil {
		return err
	}
	locatorsJSON, err := json.Marshal(locators)
	if err != nil {
		return fmt.Errorf("encode file urls: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET file_storage_urls = ?, file_urls = ?, updated_at = ? WHERE id = ?
	`, string(meta), string(locatorsJSON), s.now(), id)
	if err != nil {
		return fmt.Errorf("write file references %s: %w", id, apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return data.ErrJobNotFound
	}
	return nil
}

// WriteLegacyFileData stores the pre-migration metadata column. Only admin tooling and
// tests use it.
func (s *Store) WriteLegacyFileData(ctx context.Context, id string, raw string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET file_data = ? WHERE id = ?`, raw, id)
	if err != nil {
		return fmt.Errorf("write legacy file data %s: %w", id, apperrors.MapDBError(err))
	}
	return nil
}

// ResetFailed moves a FAILED job back to READY with cleared error, result and counters.
func (s *Store) ResetFailed(ctx context.Context, id string) (bool, error) {
	in, statusArgs := inList(model.JobStatusFailed.StoredNames())
	args := append([]any{s.now(), id}, statusArgs...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'ready', error = NULL, result = NULL, progress = 0,
		    processed_files = 0, retry_count = 0, updated_at = ?
		WHERE id = ? AND status IN (`+in+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("reset failed job %s: %w", id, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes the job row.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rows affected: %w", err)
	}
	return n > 0, nil
}

// ReclaimStale demotes PROCESSING jobs not updated since olderThan back to READY.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, errors.New("limit must be greater than zero")
	}
	in, statusArgs := inList(model.JobStatusProcessing.StoredNames())
	cutoff := formatTime(olderThan)

	args := []any{s.now()}
	args = append(args, statusArgs...)
	args = append(args, cutoff, limit)
	args = append(args, statusArgs...)
	args = append(args, cutoff)

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'ready', error = NULL, progress = 0, processed_files = 0, updated_at = ?
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN (`+in+`) AND updated_at < ?
			ORDER BY updated_at
			LIMIT ?
		)
		AND status IN (`+in+`) AND updated_at < ?
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", apperrors.MapDBError(err))
	}
	return res.RowsAffected()
}

// PurgeTerminal deletes old terminal jobs and returns them.
func (s *Store) PurgeTerminal(ctx context.Context, params core.RetentionParams) ([]*model.Job, error) {
	if !params.Status.IsTerminal() {
		return nil, fmt.Errorf("purge requires a terminal status, got %q", params.Status)
	}
	if params.Limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}
	in, args := inList(params.Status.StoredNames())
	args = append(args, formatTime(params.OlderThan), params.Limit)

	jobs, err := s.queryJobs(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs WHERE status IN (`+in+`) AND updated_at < ? ORDER BY updated_at LIMIT ?
		)
		RETURNING `+jobColumns, args...)
	if err != nil {
		return nil, fmt.Errorf("purge jobs: %w", err)
	}
	return jobs, nil
}

// Stats counts jobs per status. Legacy statuses are folded into their current state.
func (s *Store) Stats(ctx context.Context) (model.JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	stats := model.JobStats{}
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		st, err := model.ParseJobStatus(raw)
		if err != nil {
			s.logger.WarnContext(ctx, "unknown job status in store", "status", raw)
			continue
		}
		stats[st] += n
	}
	return stats, rows.Err()
}

var (
	_ core.JobRepository = (*Store)(nil)
	_ core.JobRetention  = (*Store)(nil)
)
