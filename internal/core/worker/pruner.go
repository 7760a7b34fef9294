package worker

import (
	"context"
	"log/slog"
	"time"
)

// FailedExpirer drops failed items older than a cutoff.
type FailedExpirer interface {
	ExpireFailed(ctx context.Context, maxAge time.Duration) int
}

// Pruner deletes failed queue items based on retention policy.
type Pruner struct {
	retention time.Duration
	queue     FailedExpirer
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A zero retention keeps failed items
// until an operator clears them.
func NewPruner(retention time.Duration, queue FailedExpirer) *Pruner {
	return &Pruner{
		retention: retention,
		queue:     queue,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Interval returns how often Start prunes: 10% of the retention period,
// clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.PruneOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce expires failed items past retention and returns how many went.
func (p *Pruner) PruneOnce(ctx context.Context) int {
	if p.retention <= 0 {
		return 0
	}
	n := p.queue.ExpireFailed(ctx, p.retention)
	if n > 0 {
		p.log.Info("Pruned failed queue items", "count", n, "retention", p.retention)
	}
	return n
}
