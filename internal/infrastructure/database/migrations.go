package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"time"
)

// migrationName matches 20261016_000000_description.up.sql; the
// description is optional.
var migrationName = regexp.MustCompile(`^(\d{8}_\d{6})(?:_(\w+))?\.up\.sql$`)

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migration is one forward schema change.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

func parseMigrationFilename(filename string) (version, name string, ok bool) {
	m := migrationName.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// LoadMigrations reads the *.up.sql files at the root of fsys in version
// order. Other files are ignored.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("database: listing migrations: %w", err)
	}

	var out []Migration
	for _, n := range names {
		version, name, ok := parseMigrationFilename(path.Base(n))
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, n)
		if err != nil {
			return nil, fmt.Errorf("database: reading %s: %w", n, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return out, nil
}

// Migrate applies the migrations in fsys that schema_migrations has not
// seen, oldest first, each in its own transaction. It returns how many
// were applied. A failed migration is rolled back and stops the run;
// the earlier ones stay applied.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return 0, fmt.Errorf("database: creating schema_migrations: %w", err)
	}

	all, err := LoadMigrations(fsys)
	if err != nil {
		return 0, err
	}
	records, err := db.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[r.Version] = struct{}{}
	}

	applied := 0
	for _, m := range all {
		if _, ok := seen[m.Version]; ok {
			continue
		}
		if err := db.WithTx(ctx, m.apply); err != nil {
			return applied, fmt.Errorf("database: migration %s %s: %w", m.Version, m.Name, err)
		}
		applied++
	}
	return applied, nil
}

func (m Migration) apply(tx *sql.Tx) error {
	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339))
	return err
}

// AppliedMigrations lists schema_migrations in version order.
func (db *DB) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("database: listing applied migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			r  MigrationRecord
			at string
		)
		if err := rows.Scan(&r.Version, &at); err != nil {
			return nil, fmt.Errorf("database: scanning migration: %w", err)
		}
		if r.AppliedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("database: migration %s has bad applied_at %q: %w", r.Version, at, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
