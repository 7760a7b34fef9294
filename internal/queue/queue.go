// Package queue holds pending actions until they are delivered.
//
// The queue is the single owner of item state. Every mutation happens under its
// mutex and is followed by a snapshot write to the configured store.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/offlinesync/internal/core/clock"
	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/infra/storage"
	"github.com/vietddude/offlinesync/internal/retry"
	"github.com/vietddude/offlinesync/internal/telemetry"
)

var (
	ErrItemNotFound   = errors.New("queue item not found")
	ErrItemProcessing = errors.New("queue item is being processed")
	ErrItemNotClaimed = errors.New("queue item is not being processed")
	ErrNilAction      = errors.New("action is nil")
)

// DefaultUrgentThreshold is the priority above which new items jump to the
// front of their band.
const DefaultUrgentThreshold = 90

// Config controls ordering and the backoff gate.
type Config struct {
	// UrgentThreshold: items with priority strictly above it are inserted at
	// the front of their priority band.
	UrgentThreshold int

	// Backoff gates redelivery: an item that failed n times is not handed out
	// again until Backoff.Delay(n) has passed since its last attempt.
	Backoff retry.Strategy
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		UrgentThreshold: DefaultUrgentThreshold,
		Backoff:         retry.DefaultBackoff(),
	}
}

// Queue is a priority queue of actions with attempt tracking.
type Queue struct {
	cfg   Config
	store storage.QueueStore
	clock clock.Clock
	sink  telemetry.Sink
	log   *slog.Logger

	mu        sync.Mutex
	items     map[string]*domain.QueueItem
	nextSeq   int64
	urgentSeq int64
	version   uint64

	// claims holds the pre-dequeue attempt state of processing items so a
	// claim that never executed can be rolled back.
	claims map[string]claim

	persistMu    sync.Mutex
	savedVersion uint64
}

type claim struct {
	attempts      int
	lastAttemptAt *time.Time
}

// New creates a queue. store may be nil for a purely in-memory queue.
func New(cfg Config, store storage.QueueStore, clk clock.Clock, sink telemetry.Sink) *Queue {
	if cfg.Backoff == nil {
		cfg.Backoff = retry.DefaultBackoff()
	}
	return &Queue{
		cfg:     cfg,
		store:   store,
		clock:   clock.OrReal(clk),
		sink:    telemetry.OrNop(sink),
		log:     slog.Default().With("component", "queue"),
		items:   make(map[string]*domain.QueueItem),
		claims:  make(map[string]claim),
		nextSeq: 1,
	}
}

// Enqueue adds action and returns the new item's id.
func (q *Queue) Enqueue(ctx context.Context, action domain.Action) (string, error) {
	return q.add(ctx, action, nil)
}

// EnqueueFailed adds an action whose first attempt already failed elsewhere.
// The item starts with one recorded attempt so the backoff gate and the
// non-retryable rule apply to it.
func (q *Queue) EnqueueFailed(ctx context.Context, action domain.Action, cause error) (string, error) {
	if cause == nil {
		cause = errors.New("unknown error")
	}
	return q.add(ctx, action, cause)
}

func (q *Queue) add(ctx context.Context, action domain.Action, cause error) (string, error) {
	if action == nil {
		return "", ErrNilAction
	}
	if !action.Kind().IsKnown() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownActionKind, action.Kind())
	}

	now := q.clock.Now()
	item := &domain.QueueItem{
		ID:        uuid.New().String(),
		Action:    action,
		CreatedAt: now,
	}
	if cause != nil {
		item.Attempts = 1
		item.LastError = cause.Error()
		item.LastAttemptAt = &now
	}

	q.mu.Lock()
	if action.Kind().Priority() > q.cfg.UrgentThreshold {
		q.urgentSeq--
		item.Seq = q.urgentSeq
	} else {
		item.Seq = q.nextSeq
		q.nextSeq++
	}
	q.items[item.ID] = item
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.log.Debug("Enqueued action",
		"id", item.ID,
		"kind", action.Kind(),
		"priority", action.Kind().Priority(),
		"attempts", item.Attempts,
	)
	q.sink.RecordQueueOp("enqueue")
	q.persist(ctx, v, snap)
	return item.ID, nil
}

// DequeueNext claims the most urgent eligible item.
//
// Eligible items are not processing, not failed, and past their backoff delay.
// The claimed item is marked processing and its attempt count incremented in
// the same critical section, which counts the first execution attempt of this
// claim. The returned value is a copy. ok is false when nothing is eligible,
// which is not the same as the queue being empty.
func (q *Queue) DequeueNext(ctx context.Context) (*domain.QueueItem, bool) {
	now := q.clock.Now()

	q.mu.Lock()
	var best *domain.QueueItem
	for _, item := range q.items {
		if !q.eligibleLocked(item, now) {
			continue
		}
		if best == nil || less(item, best) {
			best = item
		}
	}
	if best == nil {
		q.mu.Unlock()
		return nil, false
	}

	q.claims[best.ID] = claim{attempts: best.Attempts, lastAttemptAt: best.LastAttemptAt}
	best.Processing = true
	best.Attempts++
	best.LastAttemptAt = &now
	out := best.Clone()
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp("dequeue")
	q.persist(ctx, v, snap)
	return out, true
}

func (q *Queue) eligibleLocked(item *domain.QueueItem, now time.Time) bool {
	if item.Processing || item.IsFailed() {
		return false
	}
	if item.Attempts == 0 || item.LastAttemptAt == nil {
		return true
	}
	delay := retry.Delay(q.cfg.Backoff, item.Attempts)
	return !now.Before(item.LastAttemptAt.Add(delay))
}

// BeginAttempt records a further execution attempt on a claimed item.
func (q *Queue) BeginAttempt(ctx context.Context, id string) error {
	now := q.clock.Now()

	q.mu.Lock()
	item, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if !item.Processing {
		q.mu.Unlock()
		return ErrItemNotClaimed
	}
	item.Attempts++
	item.LastAttemptAt = &now
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp("attempt")
	q.persist(ctx, v, snap)
	return nil
}

// Release hands back a claimed item whose execution never started. The
// attempt counted by DequeueNext is rolled back and the item is eligible again.
func (q *Queue) Release(ctx context.Context, id string) error {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if !item.Processing {
		q.mu.Unlock()
		return ErrItemNotClaimed
	}
	if prev, ok := q.claims[id]; ok {
		item.Attempts = prev.attempts
		item.LastAttemptAt = prev.lastAttemptAt
	}
	item.Processing = false
	delete(q.claims, id)
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp("release")
	q.persist(ctx, v, snap)
	return nil
}

// MarkCompleted removes a delivered item. Unknown ids are ignored.
func (q *Queue) MarkCompleted(ctx context.Context, id string) {
	q.mu.Lock()
	if _, ok := q.items[id]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.items, id)
	delete(q.claims, id)
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp("complete")
	q.persist(ctx, v, snap)
}

// MarkFailed releases a processing item and records the failure.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	now := q.clock.Now()

	q.mu.Lock()
	item, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	item.Processing = false
	item.LastAttemptAt = &now
	delete(q.claims, id)
	if cause != nil {
		item.LastError = cause.Error()
	}
	failed := item.IsFailed()
	attempts := item.Attempts
	v, snap := q.commitLocked()
	q.mu.Unlock()

	if failed {
		q.log.Warn("Queue item exhausted its attempts",
			"id", id,
			"attempts", attempts,
			"error", cause,
		)
	}
	q.sink.RecordQueueOp("fail")
	q.persist(ctx, v, snap)
	return nil
}

// Remove deletes an item regardless of state.
func (q *Queue) Remove(ctx context.Context, id string) bool {
	q.mu.Lock()
	if _, ok := q.items[id]; !ok {
		q.mu.Unlock()
		return false
	}
	delete(q.items, id)
	delete(q.claims, id)
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp("remove")
	q.persist(ctx, v, snap)
	return true
}

// Clear removes every item and returns how many were dropped.
func (q *Queue) Clear(ctx context.Context) int {
	q.mu.Lock()
	n := len(q.items)
	q.items = make(map[string]*domain.QueueItem)
	q.claims = make(map[string]claim)
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp("clear")
	q.persist(ctx, v, snap)
	return n
}

// RetryFailed resets every failed item so it becomes eligible again.
func (q *Queue) RetryFailed(ctx context.Context) int {
	q.mu.Lock()
	n := 0
	for _, item := range q.items {
		if item.IsFailed() {
			resetLocked(item)
			n++
		}
	}
	if n == 0 {
		q.mu.Unlock()
		return 0
	}
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.log.Info("Reset failed queue items", "count", n)
	q.sink.RecordQueueOp("retry_failed")
	q.persist(ctx, v, snap)
	return n
}

// RetryItem resets a single item's attempts and error.
func (q *Queue) RetryItem(ctx context.Context, id string) error {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if item.Processing {
		q.mu.Unlock()
		return ErrItemProcessing
	}
	resetLocked(item)
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp("retry_item")
	q.persist(ctx, v, snap)
	return nil
}

func resetLocked(item *domain.QueueItem) {
	item.Attempts = 0
	item.LastError = ""
	item.LastAttemptAt = nil
}

// ClearFailed removes every failed item.
func (q *Queue) ClearFailed(ctx context.Context) int {
	return q.removeFailed(ctx, "clear_failed", func(*domain.QueueItem) bool { return true })
}

// ExpireFailed removes failed items whose last attempt is older than maxAge.
func (q *Queue) ExpireFailed(ctx context.Context, maxAge time.Duration) int {
	cutoff := q.clock.Now().Add(-maxAge)
	return q.removeFailed(ctx, "expire_failed", func(item *domain.QueueItem) bool {
		last := item.CreatedAt
		if item.LastAttemptAt != nil {
			last = *item.LastAttemptAt
		}
		return last.Before(cutoff)
	})
}

func (q *Queue) removeFailed(ctx context.Context, op string, match func(*domain.QueueItem) bool) int {
	q.mu.Lock()
	n := 0
	for id, item := range q.items {
		if item.IsFailed() && match(item) {
			delete(q.items, id)
			n++
		}
	}
	if n == 0 {
		q.mu.Unlock()
		return 0
	}
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.sink.RecordQueueOp(op)
	q.persist(ctx, v, snap)
	return n
}

// Get returns a copy of the item with id.
func (q *Queue) Get(id string) (*domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// Contains reports whether id is queued in any state.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[id]
	return ok
}

// GetAll returns copies of every item in dequeue order.
func (q *Queue) GetAll() []*domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sortedLocked()
}

// Len returns the number of items in any state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Load replaces the in-memory state with the stored snapshot. Items stored
// while processing are released, since no owner survives a restart.
func (q *Queue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	items, err := q.store.Load(ctx)
	if err != nil {
		q.sink.RecordPersistError("load")
		return fmt.Errorf("failed to load queue: %w", err)
	}

	q.mu.Lock()
	q.items = make(map[string]*domain.QueueItem, len(items))
	q.claims = make(map[string]claim)
	q.nextSeq, q.urgentSeq = 1, 0
	released := 0
	for _, item := range items {
		if item == nil || item.Action == nil {
			continue
		}
		if item.Processing {
			item.Processing = false
			released++
		}
		if item.Seq >= q.nextSeq {
			q.nextSeq = item.Seq + 1
		}
		if item.Seq < q.urgentSeq {
			q.urgentSeq = item.Seq
		}
		q.items[item.ID] = item
	}
	total := len(q.items)
	v, snap := q.commitLocked()
	q.mu.Unlock()

	q.log.Info("Loaded queue", "items", total, "released", released)
	if released > 0 {
		q.persist(ctx, v, snap)
	}
	return nil
}

// commitLocked bumps the version and snapshots the items for persistence.
func (q *Queue) commitLocked() (uint64, []*domain.QueueItem) {
	q.version++
	if q.store == nil {
		return q.version, nil
	}
	return q.version, q.sortedLocked()
}

// persist writes a snapshot unless a newer one has already been written.
// Failures are logged and counted; they never change queue semantics.
func (q *Queue) persist(ctx context.Context, version uint64, snap []*domain.QueueItem) {
	if q.store == nil {
		return
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()
	if version <= q.savedVersion {
		return
	}
	if err := q.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		q.log.Error("Failed to persist queue", "version", version, "error", err)
		q.sink.RecordPersistError("save")
		return
	}
	q.savedVersion = version
}

func (q *Queue) sortedLocked() []*domain.QueueItem {
	out := make([]*domain.QueueItem, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// less orders by priority descending, then sequence ascending.
func less(a, b *domain.QueueItem) bool {
	pa, pb := a.Priority(), b.Priority()
	if pa != pb {
		return pa > pb
	}
	return a.Seq < b.Seq
}
