package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/infra/storage"
)

// QueueRepo is a storage.QueueStore backed by PostgreSQL. Several devices or
// processes can share one table through distinct namespaces.
type QueueRepo struct {
	db        *sqlx.DB
	namespace string
}

func NewQueueRepo(db *DB, namespace string) *QueueRepo {
	if namespace == "" {
		namespace = "default"
	}
	return &QueueRepo{db: db.DB, namespace: namespace}
}

type queueRow struct {
	Namespace string `db:"namespace"`
	storage.QueueItemRow
}

// Load implements storage.QueueStore.
func (r *QueueRepo) Load(ctx context.Context) ([]*domain.QueueItem, error) {
	var rows []queueRow
	query := `
		SELECT namespace, id, seq, kind, payload, created_at, attempts, last_attempt_at, last_error, processing
		FROM queue_items
		WHERE namespace = $1
		ORDER BY seq ASC
	`
	if err := r.db.SelectContext(ctx, &rows, query, r.namespace); err != nil {
		return nil, fmt.Errorf("failed to load queue items: %w", err)
	}

	items := make([]*domain.QueueItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.ToItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Save implements storage.QueueStore.
func (r *QueueRepo) Save(ctx context.Context, items []*domain.QueueItem) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_items WHERE namespace = $1", r.namespace); err != nil {
		return fmt.Errorf("failed to clear queue items: %w", err)
	}

	if len(items) > 0 {
		rows := make([]queueRow, 0, len(items))
		for _, item := range items {
			row, err := storage.ToRow(item)
			if err != nil {
				return err
			}
			rows = append(rows, queueRow{Namespace: r.namespace, QueueItemRow: row})
		}

		query := `
			INSERT INTO queue_items (namespace, id, seq, kind, payload, created_at, attempts, last_attempt_at, last_error, processing)
			VALUES (:namespace, :id, :seq, :kind, :payload, :created_at, :attempts, :last_attempt_at, :last_error, :processing)
		`
		if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
			return fmt.Errorf("failed to insert queue items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}
