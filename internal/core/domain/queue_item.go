package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueItemStatus is the derived lifecycle state of a queued action.
type QueueItemStatus string

const (
	QueueItemStatusPending    QueueItemStatus = "pending"
	QueueItemStatusProcessing QueueItemStatus = "processing"
	QueueItemStatusFailed     QueueItemStatus = "failed"
)

// QueueItem wraps one queued action with its delivery bookkeeping.
type QueueItem struct {
	ID            string
	Action        Action
	CreatedAt     time.Time
	Attempts      int
	LastAttemptAt *time.Time
	LastError     string
	Processing    bool

	// Seq orders items inside a priority band. Urgent items get decreasing
	// negative values so the newest one sorts first.
	Seq int64
}

// Priority returns the priority of the wrapped action.
func (i *QueueItem) Priority() int {
	if i.Action == nil {
		return 0
	}
	return i.Action.Kind().Priority()
}

// IsFailed reports whether the item exhausted its attempt budget, or is a
// non-retryable action that has failed once.
func (i *QueueItem) IsFailed() bool {
	if i.Processing || i.Action == nil {
		return false
	}
	kind := i.Action.Kind()
	if i.Attempts >= kind.MaxAttempts() {
		return true
	}
	return !kind.IsRetryable() && i.Attempts > 0
}

// Status derives the lifecycle state.
func (i *QueueItem) Status() QueueItemStatus {
	switch {
	case i.Processing:
		return QueueItemStatusProcessing
	case i.IsFailed():
		return QueueItemStatusFailed
	default:
		return QueueItemStatusPending
	}
}

// Clone returns a copy that shares no mutable state with i.
func (i *QueueItem) Clone() *QueueItem {
	c := *i
	if i.LastAttemptAt != nil {
		t := *i.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return &c
}

type queueItemJSON struct {
	ID            string          `json:"id"`
	Action        ActionEnvelope  `json:"action"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Processing    bool            `json:"processing"`
	Seq           int64           `json:"seq"`
	Status        QueueItemStatus `json:"status,omitempty"`
}

// MarshalJSON encodes the action through its envelope.
func (i QueueItem) MarshalJSON() ([]byte, error) {
	env, err := EncodeAction(i.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(queueItemJSON{
		ID:            i.ID,
		Action:        env,
		CreatedAt:     i.CreatedAt,
		Attempts:      i.Attempts,
		LastAttemptAt: i.LastAttemptAt,
		LastError:     i.LastError,
		Processing:    i.Processing,
		Seq:           i.Seq,
		Status:        i.Status(),
	})
}

// UnmarshalJSON decodes the action envelope back into its variant.
func (i *QueueItem) UnmarshalJSON(data []byte) error {
	var raw queueItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	action, err := DecodeAction(raw.Action)
	if err != nil {
		return fmt.Errorf("queue item %s: %w", raw.ID, err)
	}
	*i = QueueItem{
		ID:            raw.ID,
		Action:        action,
		CreatedAt:     raw.CreatedAt,
		Attempts:      raw.Attempts,
		LastAttemptAt: raw.LastAttemptAt,
		LastError:     raw.LastError,
		Processing:    raw.Processing,
		Seq:           raw.Seq,
	}
	return nil
}
