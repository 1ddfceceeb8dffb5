package db

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/morezero/jsonrpc2/migrations"
)

const migrationsLogPrefix = "db:migrations"

// EmbeddedMigrations names the migration source used when no path is configured.
const EmbeddedMigrations = "embedded"

// LoadMigrations reads migrations from dir, or the ones compiled into the binary when dir is empty.
func LoadMigrations(dir string) ([]string, error) {
	if dir == "" || dir == EmbeddedMigrations {
		return LoadMigrationFS(migrations.FS, ".")
	}
	return LoadMigrationFiles(dir)
}

// LoadMigrationFiles reads all .sql files from dir, sorted by name, and returns their contents.
func LoadMigrationFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}
	out, err := LoadMigrationFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// LoadMigrationFS reads all .sql files directly under dir in fsys, sorted by name.
func LoadMigrationFS(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		p := path.Join(dir, name)
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, p, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}
