package storage

import (
	"context"

	"github.com/vietddude/offlinesync/internal/core/domain"
)

// QueueStore persists queue snapshots.
//
// Save replaces the whole persisted set with items. Load returns the last saved
// set in any order; the queue restores ordering from each item's Seq.
type QueueStore interface {
	// Load retrieves every persisted item
	Load(ctx context.Context) ([]*domain.QueueItem, error)

	// Save replaces the persisted set
	Save(ctx context.Context, items []*domain.QueueItem) error
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}
