package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mosys-billing/tvfleet/internal/infrastructure/database"
)

// SQLiteBackend stores documents as rows of the documents table.
// The table is created by the embedded migrations; run db.Migrate first.
type SQLiteBackend struct {
	db *database.DB
}

// NewSQLiteBackend returns a backend over an open, migrated database.
func NewSQLiteBackend(db *database.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Get returns the body stored under key.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %s: %w", key, err)
	}
	return []byte(body), nil
}

// Put inserts or replaces the row for key.
func (b *SQLiteBackend) Put(ctx context.Context, key string, body []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, key, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", key, err)
	}
	return nil
}

// HealthCheck pings the database.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	return b.db.HealthCheck(ctx)
}
