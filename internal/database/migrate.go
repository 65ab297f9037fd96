package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the four durable tables (idempotency_record,
// partition_state, swap_blotter, job_status) up to the latest embedded
// schema version. Safe to call on every boot: goose tracks applied
// versions in its own goose_db_version table and is a no-op once current.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}
	return nil
}
