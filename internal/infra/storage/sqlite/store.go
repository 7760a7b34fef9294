// Package sqlite persists queue snapshots in an on-device SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/infra/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store is a storage.QueueStore backed by SQLite with WAL mode.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load implements storage.QueueStore.
func (s *Store) Load(ctx context.Context) ([]*domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, kind, payload, created_at, attempts, last_attempt_at, last_error, processing
		FROM queue_items
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	var items []*domain.QueueItem
	for rows.Next() {
		var r storage.QueueItemRow
		if err := rows.Scan(
			&r.ID, &r.Seq, &r.Kind, &r.Payload, &r.CreatedAt,
			&r.Attempts, &r.LastAttemptAt, &r.LastError, &r.Processing,
		); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item, err := r.ToItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Save implements storage.QueueStore. The snapshot replaces the table
// contents in a single transaction.
func (s *Store) Save(ctx context.Context, items []*domain.QueueItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_items"); err != nil {
		return fmt.Errorf("failed to clear queue items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO queue_items (id, seq, kind, payload, created_at, attempts, last_attempt_at, last_error, processing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		r, err := storage.ToRow(item)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Seq, r.Kind, r.Payload, r.CreatedAt,
			r.Attempts, r.LastAttemptAt, r.LastError, r.Processing,
		); err != nil {
			return fmt.Errorf("failed to insert queue item %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}

// Health checks the database connection.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
