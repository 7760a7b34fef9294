package memory

import (
	"context"
	"sync"

	"github.com/vietddude/offlinesync/internal/core/domain"
)

// QueueStore keeps the last snapshot in process memory.
type QueueStore struct {
	items []*domain.QueueItem
	saves int
	mu    sync.RWMutex
}

func NewQueueStore() *QueueStore {
	return &QueueStore{}
}

func (s *QueueStore) Load(ctx context.Context) ([]*domain.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.QueueItem, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out, nil
}

func (s *QueueStore) Save(ctx context.Context, items []*domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]*domain.QueueItem, len(items))
	for i, item := range items {
		s.items[i] = item.Clone()
	}
	s.saves++
	return nil
}

// Saves returns how many snapshots were written.
func (s *QueueStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
