// Package db provides the pgx connection pool, SQL migrations and the invocation failure journal.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// JournalTable is created by the first migration; its presence means migrations ran.
const JournalTable = "invocation_failures"

// Pool sizing applied over whatever the URL asks for.
const (
	MaxConns = 8
	MinConns = 1
)

// PoolConfig parses databaseURL and applies the pool sizing.
func PoolConfig(databaseURL string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = MaxConns
	config.MinConns = MinConns
	return config, nil
}

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := PoolConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies SQL migration files in order.
// Migrations are written to be re-runnable (IF NOT EXISTS).
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrationFiles)))

	for i, sql := range migrationFiles {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - migration %d failed: %w", logPrefix, i+1, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// MigrationState describes the schema as seen by MigrationStatus.
type MigrationState struct {
	Applied bool
	Files   int
	Path    string
}

func (s MigrationState) String() string {
	if s.Applied {
		return fmt.Sprintf("Migration status: applied (schema present, %d migration files in %s)", s.Files, s.Path)
	}
	return fmt.Sprintf("Migration status: not applied (run 'jsonrpc2d migrate up'). %d migration files in %s", s.Files, s.Path)
}

// MigrationStatus reports whether migrations have been applied by checking for the journal table.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (*MigrationState, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		JournalTable).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	if migrationPath == "" {
		migrationPath = EmbeddedMigrations
	}
	files, err := LoadMigrations(migrationPath)
	if err != nil {
		return nil, fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}
	return &MigrationState{Applied: exists, Files: len(files), Path: migrationPath}, nil
}
