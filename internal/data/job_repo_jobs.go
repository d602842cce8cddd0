package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/target/docflow/internal/data/pgxutil"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// Create inserts a job with zeroed counters. The status defaults to CREATED.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, ErrCreateRequestRequired
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid create job request")
	}

	status := req.InitialStatus
	if status == "" {
		status = model.JobStatusCreated
	}
	now := r.timeProvider.Now()

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				INSERT INTO jobs (id, status, endpoint_type, document_id, batch_id, total_files, user_id, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
				RETURNING `+jobColumns,
				uuid.NewString(), string(status), string(req.EndpointType), req.DocumentID, req.BatchID, req.TotalFiles, req.UserID, now,
			)
			if err != nil {
				return err
			}
			job, err = pgx.CollectExactlyOneRow(rows, scanJob)
			if err != nil {
				return err
			}
			if status == model.JobStatusReady {
				return r.notifyReady(ctx, tx, job.ID)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// Get reads one job. Malformed ids and rows owned by someone else read as NotFound.
func (r *JobRepo) Get(ctx context.Context, id, owner string) model.LookupResult {
	if _, err := uuid.Parse(id); err != nil {
		return model.NotFound()
	}

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		var cerr error
		job, cerr = pgx.CollectExactlyOneRow(rows, scanJob)
		return cerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotFound()
	}
	if err != nil {
		return lookupFailure(fmt.Errorf("get job %s: %w", id, apperrors.MapDBError(err)))
	}
	if owner != "" && !job.OwnedBy(owner) {
		return model.NotFound()
	}
	return model.Found(job)
}

// lookupFailure classifies a read error into a transient or permanent lookup result.
func lookupFailure(err error) model.LookupResult {
	if apperrors.IsUnavailable(err) || apperrors.IsTimeout(err) {
		return model.LookupResult{Kind: model.LookupTransientFailure, Err: err}
	}
	return model.LookupResult{Kind: model.LookupPermanentFailure, Err: err}
}

// Update merges the provided fields and refreshes updated_at. Moving a job to READY
// also sends a ready notification in the same transaction. Errors are logged and
// reported as false.
func (r *JobRepo) Update(ctx context.Context, id string, upd model.JobUpdate) bool {
	query, args := buildUpdate(id, upd, r.timeProvider.Now())

	var affected int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()
			if affected > 0 && upd.Status != nil && *upd.Status == model.JobStatusReady {
				return r.notifyReady(ctx, tx, id)
			}
			return nil
		},
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "update job failed", "job_id", id, "error", apperrors.MapDBError(err))
		return false
	}
	if affected == 0 {
		r.logger.WarnContext(ctx, "update matched no job", "job_id", id)
		return false
	}
	return true
}

// buildUpdate renders an UPDATE for the non-nil fields of upd. updated_at is always set.
func buildUpdate(id string, upd model.JobUpdate, now time.Time) (string, []any) {
	sets := []string{"updated_at = $1"}
	args := []any{now}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Result != nil {
		add("result", []byte(upd.Result))
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

	args = append(args, id)
	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = $" + strconv.Itoa(len(args))
	return query, args
}

// buildGuardedUpdate extends buildUpdate with the guard's status and claim conditions.
func buildGuardedUpdate(id string, guard model.UpdateGuard, upd model.JobUpdate, now time.Time) (string, []any) {
	query, args := buildUpdate(id, upd, now)
	args = append(args, guard.Status.StoredNames())
	query += " AND status = ANY($" + strconv.Itoa(len(args)) + ")"
	if guard.ClaimedAt != nil {
		args = append(args, *guard.ClaimedAt)
		query += " AND claimed_at = $" + strconv.Itoa(len(args))
	}
	return query, args
}

// UpdateIf applies upd only while guard holds. An illegal status change is a validation
// error; a job that moved on is a conflict wrapping model.ErrJobMoved.
func (r *JobRepo) UpdateIf(ctx context.Context, id string, guard model.UpdateGuard, upd model.JobUpdate) error {
	if err := domainjob.CheckGuardedUpdate(guard, upd); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	query, args := buildGuardedUpdate(id, guard, upd, r.timeProvider.Now())

	var affected int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()
			if affected > 0 && upd.Status != nil && *upd.Status == model.JobStatusReady {
				return r.notifyReady(ctx, tx, id)
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, apperrors.MapDBError(err))
	}
	if affected == 0 {
		return JobMovedError(id)
	}
	return nil
}

// Claim atomically moves a READY job to PROCESSING. Losing the race is not an error.
func (r *JobRepo) Claim(ctx context.Context, id string) (*model.Job, bool, error) {
	now := r.timeProvider.Now()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE jobs
			SET status = 'processing',
			    claimed_at = $2,
			    updated_at = $2
			WHERE id = $1 AND status = ANY($3)
			RETURNING `+jobColumns,
			id, now, model.JobStatusReady.StoredNames(),
		)
		if err != nil {
			return err
		}
		job, err = pgx.CollectExactlyOneRow(rows, scanJob)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim job %s: %w", id, apperrors.MapDBError(err))
	}
	return job, true, nil
}

// WriteFileReferences stores the full metadata and simple locator columns in one statement.
func (r *JobRepo) WriteFileReferences(ctx context.Context, id string, refs []model.FileReference) error {
	if id == "" {
		return ErrJobIDRequired
	}
	meta, locators, err := EncodeFileReferences(refs)
	if err != nil {
		return err
	}

	var affected int64
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, execErr := conn.Exec(ctx, `
			UPDATE jobs
			SET file_storage_urls = $2::jsonb,
			    file_urls = $3,
			    updated_at = $4
			WHERE id = $1
		`, id, string(meta), locators, r.timeProvider.Now())
		affected = tag.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("write file references %s: %w", id, apperrors.MapDBError(err))
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ResetFailed moves a FAILED job back to READY with cleared error, result and counters.
func (r *JobRepo) ResetFailed(ctx context.Context, id string) (bool, error) {
	var affected int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE jobs
				SET status = 'ready',
				    error = NULL,
				    result = NULL,
				    progress = 0,
				    processed_files = 0,
				    retry_count = 0,
				    updated_at = $2
				WHERE id = $1 AND status = ANY($3)
			`, id, r.timeProvider.Now(), model.JobStatusFailed.StoredNames())
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()
			if affected > 0 {
				return r.notifyReady(ctx, tx, id)
			}
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("reset failed job %s: %w", id, apperrors.MapDBError(err))
	}
	return affected > 0, nil
}

// Delete removes the job row.
func (r *JobRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job rows affected: %w", err)
	}
	return n > 0, nil
}

// Stats counts jobs per status. Legacy statuses are folded into their current state.
func (r *JobRepo) Stats(ctx context.Context) (model.JobStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
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
		status, err := model.ParseJobStatus(raw)
		if err != nil {
			r.logger.WarnContext(ctx, "unknown job status in store", "status", raw)
			continue
		}
		stats[status] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}
	return stats, nil
}

func (r *JobRepo) notifyReady(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, r.notifyChannel, id); err != nil {
		return fmt.Errorf("send ready notification: %w", err)
	}
	return nil
}

// WaitForReady blocks until a ready notification arrives on the repository's channel.
func (r *JobRepo) WaitForReady(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	quoted := pgx.Identifier{r.notifyChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", r.notifyChannel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return pgxutil.ErrNotPgx
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
