// Package migrate applies the embedded schema migrations for the supported SQL dialects.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect selects the migration set and the bookkeeping SQL.
type Dialect string

const (
	// Postgres is the production dialect.
	Postgres Dialect = "postgres"
	// SQLite is the single-node dialect used for local runs and tests.
	SQLite Dialect = "sqlite"
)

func (d Dialect) bookkeeping() (create, exists, insert string, err error) {
	switch d {
	case Postgres:
		return `CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`,
			`INSERT INTO schema_migrations (version) VALUES ($1)`,
			nil
	case SQLite:
		return `CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`,
			`INSERT INTO schema_migrations (version) VALUES (?)`,
			nil
	default:
		return "", "", "", fmt.Errorf("unsupported migration dialect %q", d)
	}
}

// Run applies the Postgres migrations. It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB) error {
	return RunDialect(ctx, db, Postgres)
}

// RunDialect applies every migration of dialect not yet recorded in schema_migrations.
func RunDialect(ctx context.Context, db *sql.DB, dialect Dialect) error {
	createSQL, existsSQL, insertSQL, err := dialect.bookkeeping()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	dir := "migrations/" + string(dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	logger := slog.Default().With("component", "migrations", "dialect", string(dialect))
	for _, f := range files {
		m := migration{
			version: strings.TrimSuffix(f, ".sql"),
			path:    dir + "/" + f,
			exists:  existsSQL,
			insert:  insertSQL,
		}
		if applyErr := m.apply(ctx, db, logger); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

type migration struct {
	version string
	path    string
	exists  string
	insert  string
}

func (m migration) apply(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var applied bool
	if err := db.QueryRowContext(ctx, m.exists, m.version).Scan(&applied); err != nil {
		return fmt.Errorf("check migration %s: %w", m.version, err)
	}
	if applied {
		return nil
	}

	sqlBytes, err := migrationsFS.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.version, err)
	}

	logger.InfoContext(ctx, "applying migration", "version", m.version)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(ctx, "failed to rollback transaction", "err", rollbackErr, "version", m.version)
		}
	}()

	if _, execErr := tx.ExecContext(ctx, string(sqlBytes)); execErr != nil {
		return fmt.Errorf("exec migration %s: %w", m.version, execErr)
	}
	if _, insErr := tx.ExecContext(ctx, m.insert, m.version); insErr != nil {
		return fmt.Errorf("record migration %s: %w", m.version, insErr)
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %s: %w", m.version, commitErr)
	}
	return nil
}
