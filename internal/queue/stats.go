package queue

import (
	"time"

	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/telemetry"
)

// Stats summarizes queue contents.
type Stats struct {
	Total       int                       `json:"total"`
	Pending     int                       `json:"pending"`
	Failed      int                       `json:"failed"`
	Processing  int                       `json:"processing"`
	OldestAge   time.Duration             `json:"oldest_age"`
	AvgAttempts float64                   `json:"avg_attempts"`
	ByKind      map[domain.ActionKind]int `json:"by_kind"`
}

// Stats computes a summary of the current contents.
func (q *Queue) Stats() Stats {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Total:  len(q.items),
		ByKind: make(map[domain.ActionKind]int),
	}
	var oldest time.Time
	attempts := 0
	for _, item := range q.items {
		switch item.Status() {
		case domain.QueueItemStatusProcessing:
			s.Processing++
		case domain.QueueItemStatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
		attempts += item.Attempts
		s.ByKind[item.Action.Kind()]++
		if oldest.IsZero() || item.CreatedAt.Before(oldest) {
			oldest = item.CreatedAt
		}
	}
	if s.Total > 0 {
		s.OldestAge = now.Sub(oldest)
		s.AvgAttempts = float64(attempts) / float64(s.Total)
	}
	return s
}

// Snapshot converts s for the telemetry sink.
func (s Stats) Snapshot() telemetry.QueueSnapshot {
	return telemetry.QueueSnapshot{
		Total:      s.Total,
		Pending:    s.Pending,
		Failed:     s.Failed,
		Processing: s.Processing,
		OldestAge:  s.OldestAge,
	}
}
