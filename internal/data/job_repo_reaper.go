package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/data/pgxutil"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// Advisory lock namespace for reaper operations, used with the two-argument
// pg_try_advisory_xact_lock(major, minor).
const (
	advisoryLockReaperMajor   = 2000
	advisoryLockReaperReclaim = 1
	advisoryLockReaperPurge   = 2
)

// ReclaimStale demotes PROCESSING jobs not updated since olderThan back to READY,
// clearing error and progress. At most limit jobs move per call. Concurrent reapers
// skip the sweep when another holds the advisory lock.
func (r *JobRepo) ReclaimStale(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, errors.New("limit must be greater than zero")
	}

	var reclaimed int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			locked, err := tryReaperLock(ctx, tx, advisoryLockReaperReclaim)
			if err != nil || !locked {
				return err
			}

			tag, err := tx.Exec(ctx, `
				UPDATE jobs
				SET status = 'ready',
				    error = NULL,
				    progress = 0,
				    processed_files = 0,
				    updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = ANY($2)
					  AND updated_at < $3
					ORDER BY updated_at
					LIMIT $4
					FOR UPDATE SKIP LOCKED
				)
				AND status = ANY($2)
				AND updated_at < $3
			`, r.timeProvider.Now(), model.JobStatusProcessing.StoredNames(), olderThan.UTC(), limit)
			if err != nil {
				return fmt.Errorf("reclaim stale jobs: %w", err)
			}
			reclaimed = tag.RowsAffected()
			if reclaimed > 0 {
				return r.notifyReady(ctx, tx, "")
			}
			return nil
		},
	})
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return reclaimed, nil
}

// PurgeTerminal deletes up to params.Limit jobs in a terminal status last updated before
// params.OlderThan and returns the deleted rows.
func (r *JobRepo) PurgeTerminal(ctx context.Context, params core.RetentionParams) ([]*model.Job, error) {
	if !params.Status.IsTerminal() {
		return nil, fmt.Errorf("purge requires a terminal status, got %q", params.Status)
	}
	if params.Limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	var purged []*model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			locked, err := tryReaperLock(ctx, tx, advisoryLockReaperPurge)
			if err != nil || !locked {
				return err
			}

			rows, err := tx.Query(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = ANY($1)
					  AND updated_at < $2
					ORDER BY updated_at
					LIMIT $3
				)
				RETURNING `+jobColumns,
				params.Status.StoredNames(), params.OlderThan.UTC(), params.Limit,
			)
			if err != nil {
				return fmt.Errorf("purge jobs: %w", err)
			}
			purged, err = pgx.CollectRows(rows, scanJob)
			return err
		},
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return purged, nil
}

func tryReaperLock(ctx context.Context, tx pgx.Tx, minor int) (bool, error) {
	var locked bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
		advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}

var (
	_ core.JobRepository = (*JobRepo)(nil)
	_ core.JobRetention  = (*JobRepo)(nil)
)
