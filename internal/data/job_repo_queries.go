package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/docflow/internal/data/pgxutil"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// ListClaimable returns READY jobs, oldest first.
func (r *JobRepo) ListClaimable(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	jobs, err := r.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`, model.JobStatusReady.StoredNames(), limit)
	if err != nil {
		return nil, fmt.Errorf("list claimable jobs: %w", err)
	}
	return jobs, nil
}

// ListByOwner returns the owner's jobs, newest first, optionally filtered by status.
func (r *JobRepo) ListByOwner(ctx context.Context, opts model.ListByOwnerOptions) ([]*model.Job, error) {
	opts.Normalize()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1`
	args := []any{opts.Owner}
	if opts.Status != nil {
		query += ` AND status = ANY($2)`
		args = append(args, opts.Status.StoredNames())
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	jobs, err := r.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs for owner: %w", err)
	}
	return jobs, nil
}

func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		jobs, err = pgx.CollectRows(rows, scanJob)
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return jobs, nil
}
