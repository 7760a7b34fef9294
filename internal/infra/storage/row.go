package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/offlinesync/internal/core/domain"
)

// QueueItemRow is the flat table form of a queue item shared by SQL stores.
// Times are unix nanoseconds so every driver round-trips them exactly.
type QueueItemRow struct {
	ID            string        `db:"id"`
	Seq           int64         `db:"seq"`
	Kind          string        `db:"kind"`
	Payload       string        `db:"payload"`
	CreatedAt     int64         `db:"created_at"`
	Attempts      int           `db:"attempts"`
	LastAttemptAt sql.NullInt64 `db:"last_attempt_at"`
	LastError     string        `db:"last_error"`
	Processing    bool          `db:"processing"`
}

// ToRow flattens item.
func ToRow(item *domain.QueueItem) (QueueItemRow, error) {
	env, err := domain.EncodeAction(item.Action)
	if err != nil {
		return QueueItemRow{}, err
	}
	row := QueueItemRow{
		ID:         item.ID,
		Seq:        item.Seq,
		Kind:       string(env.Kind),
		Payload:    string(env.Payload),
		CreatedAt:  item.CreatedAt.UnixNano(),
		Attempts:   item.Attempts,
		LastError:  item.LastError,
		Processing: item.Processing,
	}
	if item.LastAttemptAt != nil {
		row.LastAttemptAt = sql.NullInt64{Int64: item.LastAttemptAt.UnixNano(), Valid: true}
	}
	return row, nil
}

// ToItem rebuilds the queue item.
func (r QueueItemRow) ToItem() (*domain.QueueItem, error) {
	action, err := domain.DecodeAction(domain.ActionEnvelope{
		Kind:    domain.ActionKind(r.Kind),
		Payload: json.RawMessage(r.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("queue item %s: %w", r.ID, err)
	}
	item := &domain.QueueItem{
		ID:         r.ID,
		Action:     action,
		CreatedAt:  time.Unix(0, r.CreatedAt).UTC(),
		Attempts:   r.Attempts,
		LastError:  r.LastError,
		Processing: r.Processing,
		Seq:        r.Seq,
	}
	if r.LastAttemptAt.Valid {
		t := time.Unix(0, r.LastAttemptAt.Int64).UTC()
		item.LastAttemptAt = &t
	}
	return item, nil
}
