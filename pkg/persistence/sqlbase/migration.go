// Package sqlbase holds the schema migration runner shared by SQL persistence backends.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
)

// lockKey is the advisory lock held while migrating. The api, scheduler and dispatcher
// binaries all migrate on start and may do so concurrently.
const lockKey int64 = 0x6e757274

// Migrator applies numbered migrations in ascending order. All pending migrations run in
// one transaction, so a failed migration leaves the schema at its previous version.
type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func NewMigrator(logger *slog.Logger, db *sql.DB, migrations map[int]string) *Migrator {
	return &Migrator{
		db:         db,
		logger:     logger.With("module", "migrator"),
		migrations: migrations,
	}
}

// Migrate brings the schema to the latest version and returns that version.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin migration transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey); err != nil {
		return 0, fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	pending := m.pending(current)
	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "schema up to date", "version", current)

		return current, nil
	}

	for _, version := range pending {
		m.logger.InfoContext(ctx, "applying migration", "version", version)

		if _, err := tx.ExecContext(ctx, m.migrations[version]); err != nil {
			return current, fmt.Errorf("failed to execute migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return current, fmt.Errorf("failed to record migration %d: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("failed to commit migrations: %w", err)
	}

	latest := pending[len(pending)-1]
	m.logger.InfoContext(ctx, "schema migrated", "from", current, "to", latest)

	return latest, nil
}

// pending returns the versions above current in ascending order.
func (m *Migrator) pending(current int) []int {
	versions := make([]int, 0, len(m.migrations))

	for version := range m.migrations {
		if version > current {
			versions = append(versions, version)
		}
	}

	slices.Sort(versions)

	return versions
}
