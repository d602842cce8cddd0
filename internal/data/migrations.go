package data

import (
	"context"
	"database/sql"

	"github.com/target/docflow/internal/migrate"
)

// RunMigrations applies the schema for the given driver ("postgres" or "sqlite").
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	if driver == string(migrate.SQLite) {
		return migrate.RunDialect(ctx, db, migrate.SQLite)
	}
	return migrate.Run(ctx, db)
}
