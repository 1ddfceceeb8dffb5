package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/jsonrpc2/internal/config"
	"github.com/morezero/jsonrpc2/internal/server"
	"github.com/morezero/jsonrpc2/pkg/db"
	"github.com/morezero/jsonrpc2/pkg/registry"
)

// ServeCmd starts the server.
type ServeCmd struct{}

// Run implements the serve command.
func (c *ServeCmd) Run(env *runEnv) error {
	return server.Run(env.Install)
}

// WorkerCmd is what the subprocess Process lane re-executes.
type WorkerCmd struct{}

// Run implements the worker command.
func (c *WorkerCmd) Run(env *runEnv) error {
	return server.RunWorker(env.Install)
}

// MigrateCmd groups schema commands.
type MigrateCmd struct {
	Up     MigrateUpCmd     `cmd:"" help:"Run database migrations"`
	Status MigrateStatusCmd `cmd:"" help:"Show migration status"`
}

// MigrateUpCmd applies migrations.
type MigrateUpCmd struct {
	CreateDB bool `name:"create-db" help:"Create the DATABASE_URL database first if it is missing"`
}

// Run implements migrate up.
func (c *MigrateUpCmd) Run(env *runEnv) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	if c.CreateDB {
		if err := db.EnsureDatabase(env.Ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("ensure database: %w", err)
		}
	}
	pool, err := db.NewPool(env.Ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(env.Ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Fprintf(env.Out, "Applied %d migration files\n", len(migrationSQL))
	return nil
}

// MigrateStatusCmd reports whether the schema exists.
type MigrateStatusCmd struct{}

// Run implements migrate status.
func (c *MigrateStatusCmd) Run(env *runEnv) error {
	cfg, pool, err := openPool(env)
	if err != nil {
		return err
	}
	defer pool.Close()

	state, err := db.MigrationStatus(env.Ctx, pool, cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	fmt.Fprintln(env.Out, state.String())
	return nil
}

// JournalCmd groups failure journal commands.
type JournalCmd struct {
	Recent JournalRecentCmd `cmd:"" help:"Print the most recent failures as JSON"`
	Stats  JournalStatsCmd  `cmd:"" help:"Print failure counts per method as JSON"`
	Purge  JournalPurgeCmd  `cmd:"" help:"Delete failures older than a duration"`
}

// JournalRecentCmd lists recent failures.
type JournalRecentCmd struct {
	Limit int `help:"Maximum rows to print" default:"50"`
}

// Run implements journal recent.
func (c *JournalRecentCmd) Run(env *runEnv) error {
	_, pool, err := openPool(env)
	if err != nil {
		return err
	}
	defer pool.Close()

	records, err := db.NewJournal(pool).Recent(env.Ctx, c.Limit)
	if err != nil {
		return err
	}
	return printJSON(env, records)
}

// JournalStatsCmd counts failures per method.
type JournalStatsCmd struct {
	Since time.Duration `help:"Only count failures newer than this" default:"24h"`
}

// Run implements journal stats.
func (c *JournalStatsCmd) Run(env *runEnv) error {
	_, pool, err := openPool(env)
	if err != nil {
		return err
	}
	defer pool.Close()

	counts, err := db.NewJournal(pool).CountByMethod(env.Ctx, time.Now().Add(-c.Since))
	if err != nil {
		return err
	}
	return printJSON(env, counts)
}

// JournalPurgeCmd deletes old failures.
type JournalPurgeCmd struct {
	OlderThan time.Duration `name:"older-than" help:"Delete failures older than this" default:"168h"`
}

// Run implements journal purge.
func (c *JournalPurgeCmd) Run(env *runEnv) error {
	_, pool, err := openPool(env)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := db.NewJournal(pool).Purge(env.Ctx, c.OlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "Purged %d failures older than %s\n", n, c.OlderThan)
	return nil
}

// MethodsCmd prints the method table without starting the server.
type MethodsCmd struct{}

// Run implements the methods command.
func (c *MethodsCmd) Run(env *runEnv) error {
	reg := registry.NewRegistry()
	if env.Install != nil {
		if err := env.Install(reg); err != nil {
			return fmt.Errorf("install methods: %w", err)
		}
	}
	return printJSON(env, reg.Methods())
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(env *runEnv) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := loadDBConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(env.Ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

func printJSON(env *runEnv, v any) error {
	enc := json.NewEncoder(env.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
