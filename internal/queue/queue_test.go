package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/offlinesync/internal/core/clock"
	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/infra/storage/memory"
	"github.com/vietddude/offlinesync/internal/retry"
)

var errBoom = errors.New("network down")

func newTestQueue(t *testing.T) (*Queue, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(DefaultConfig(), nil, clk, nil), clk
}

func mustEnqueue(t *testing.T, q *Queue, a domain.Action) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), a)
	require.NoError(t, err)
	return id
}

// ============================================================================
// Ordering
// ============================================================================

func TestDequeue_PriorityOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})
	mustEnqueue(t, q, domain.CancelEmergencyAlert{AlertID: "a1"})
	mustEnqueue(t, q, domain.AddContact{ContactID: "c1", Name: "Ann"})

	var got []int
	for {
		item, ok := q.DequeueNext(ctx)
		if !ok {
			break
		}
		got = append(got, item.Priority())
	}
	assert.Equal(t, []int{95, 50, 10}, got)
}

func TestDequeue_EqualPriorityIsFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := mustEnqueue(t, q, domain.AddContact{ContactID: "c1", Name: "A"})
	second := mustEnqueue(t, q, domain.RemoveContact{ContactID: "c2"})
	third := mustEnqueue(t, q, domain.UpdateContact{ContactID: "c3"})

	for _, want := range []string{first, second, third} {
		item, ok := q.DequeueNext(ctx)
		require.True(t, ok)
		assert.Equal(t, want, item.ID)
	}
}

func TestEnqueue_UrgentJumpsToFrontOfBand(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	older := mustEnqueue(t, q, domain.TriggerEmergencyAlert{AlertID: "a1", RaisedAt: time.Now()})
	newer := mustEnqueue(t, q, domain.TriggerEmergencyAlert{AlertID: "a2", RaisedAt: time.Now()})

	item, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, newer, item.ID)

	item, ok = q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, older, item.ID)
}

func TestGetAll_DequeueOrder(t *testing.T) {
	q, _ := newTestQueue(t)

	low := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})
	high := mustEnqueue(t, q, domain.UpdateCheckIn{CheckInID: "c", Status: "ok", At: time.Now()})

	all := q.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, high, all[0].ID)
	assert.Equal(t, low, all[1].ID)
}

func TestEnqueue_Rejects(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilAction)

	_, err = q.Enqueue(context.Background(), unknownAction{})
	assert.ErrorIs(t, err, domain.ErrUnknownActionKind)
	assert.Equal(t, 0, q.Len())
}

type unknownAction struct{}

func (unknownAction) Kind() domain.ActionKind { return "launch_rocket" }

// ============================================================================
// Lifecycle
// ============================================================================

func TestDequeue_ClaimsItem(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.AddContact{ContactID: "c1", Name: "A"})

	item, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, item.Attempts)
	assert.True(t, item.Processing)
	require.NotNil(t, item.LastAttemptAt)
	assert.Equal(t, clk.Now(), *item.LastAttemptAt)

	// Claimed items are not handed out twice, but the queue is not empty.
	_, ok = q.DequeueNext(ctx)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Contains(id))

	// The returned copy is detached from queue state.
	item.Attempts = 99
	stored, _ := q.Get(id)
	assert.Equal(t, 1, stored.Attempts)
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.AddContact{ContactID: "c1", Name: "A"})

	_, ok := q.DequeueNext(ctx)
	require.True(t, ok)

	q.MarkCompleted(ctx, id)
	q.MarkCompleted(ctx, id)
	q.MarkCompleted(ctx, "does-not-exist")

	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Contains(id))
}

func TestMarkFailed_BackoffGate(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.AddContact{ContactID: "c1", Name: "A"})

	_, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	require.NoError(t, q.MarkFailed(ctx, id, errBoom))

	item, _ := q.Get(id)
	assert.False(t, item.Processing)
	assert.Equal(t, errBoom.Error(), item.LastError)

	// Attempt 1 waits 1s under the default backoff.
	_, ok = q.DequeueNext(ctx)
	assert.False(t, ok)

	clk.Advance(999 * time.Millisecond)
	_, ok = q.DequeueNext(ctx)
	assert.False(t, ok)

	clk.Advance(time.Millisecond)
	item, ok = q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, item.Attempts)
}

func TestMarkFailed_UnknownID(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.ErrorIs(t, q.MarkFailed(context.Background(), "nope", errBoom), ErrItemNotFound)
}

func TestMarkFailed_ExhaustedItemStaysVisible(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})

	for i := 0; i < domain.KindMarkNotificationRead.MaxAttempts(); i++ {
		clk.Advance(time.Hour)
		item, ok := q.DequeueNext(ctx)
		require.True(t, ok, "attempt %d", i+1)
		require.NoError(t, q.MarkFailed(ctx, item.ID, errBoom))
	}

	clk.Advance(time.Hour)
	_, ok := q.DequeueNext(ctx)
	assert.False(t, ok)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)

	item, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.QueueItemStatusFailed, item.Status())
}

func TestBeginAttempt_CountsEveryExecution(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})

	assert.ErrorIs(t, q.BeginAttempt(ctx, id), ErrItemNotClaimed)
	assert.ErrorIs(t, q.BeginAttempt(ctx, "nope"), ErrItemNotFound)

	_, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	for i := 1; i < domain.KindMarkNotificationRead.MaxAttempts(); i++ {
		clk.Advance(time.Second)
		require.NoError(t, q.BeginAttempt(ctx, id))
	}
	require.NoError(t, q.MarkFailed(ctx, id, errBoom))

	item, _ := q.Get(id)
	assert.Equal(t, 3, item.Attempts)
	assert.Equal(t, domain.QueueItemStatusFailed, item.Status())
	assert.Equal(t, 1, q.Stats().Failed)
}

func TestRelease_RollsBackUnexecutedClaim(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	upload := domain.UploadMedia{MediaID: "m", ContentType: "image/png", SizeBytes: 1, LocalPath: "/tmp/x"}
	id := mustEnqueue(t, q, upload)

	assert.ErrorIs(t, q.Release(ctx, id), ErrItemNotClaimed)

	_, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	require.NoError(t, q.Release(ctx, id))

	item, _ := q.Get(id)
	assert.Equal(t, 0, item.Attempts)
	assert.Nil(t, item.LastAttemptAt)
	assert.False(t, item.Processing)
	assert.Equal(t, domain.QueueItemStatusPending, item.Status())

	// A retryable item keeps its earlier failure and backoff.
	rid, err := q.EnqueueFailed(ctx, domain.RemoveContact{ContactID: "c"}, errBoom)
	require.NoError(t, err)
	failedAt := clk.Now()
	clk.Advance(time.Hour)
	claimed, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	require.Equal(t, rid, claimed.ID)
	require.NoError(t, q.Release(ctx, rid))

	item, _ = q.Get(rid)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.LastAttemptAt)
	assert.Equal(t, failedAt, *item.LastAttemptAt)

	// Released items are handed out again.
	next, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, rid, next.ID)
	assert.Equal(t, 2, next.Attempts)
	next, ok = q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, next.ID)
	assert.Equal(t, 1, next.Attempts)
}

func TestEnqueueFailed_NonRetryableIsInert(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	id, err := q.EnqueueFailed(ctx, domain.UploadMedia{MediaID: "m", ContentType: "image/png", SizeBytes: 1, LocalPath: "/tmp/x"}, errBoom)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, ok := q.DequeueNext(ctx)
	assert.False(t, ok)

	item, _ := q.Get(id)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, errBoom.Error(), item.LastError)
	assert.True(t, item.IsFailed())
}

func TestEnqueueFailed_RetryableHonorsBackoff(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueFailed(ctx, domain.RemoveContact{ContactID: "c"}, errBoom)
	require.NoError(t, err)

	_, ok := q.DequeueNext(ctx)
	assert.False(t, ok)

	clk.Advance(time.Second)
	item, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, item.Attempts)
}

// ============================================================================
// Administration
// ============================================================================

func exhaust(t *testing.T, q *Queue, clk *clock.Fake, id string) {
	t.Helper()
	ctx := context.Background()
	for {
		item, ok := q.Get(id)
		require.True(t, ok)
		if item.IsFailed() {
			return
		}
		clk.Advance(time.Hour)
		claimed, ok := q.DequeueNext(ctx)
		require.True(t, ok)
		require.NoError(t, q.MarkFailed(ctx, claimed.ID, errBoom))
	}
}

func TestRetryFailed(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})
	exhaust(t, q, clk, id)

	assert.Equal(t, 1, q.RetryFailed(ctx))
	assert.Equal(t, 0, q.RetryFailed(ctx))

	item, _ := q.Get(id)
	assert.Equal(t, 0, item.Attempts)
	assert.Empty(t, item.LastError)
	assert.Nil(t, item.LastAttemptAt)

	_, ok := q.DequeueNext(ctx)
	assert.True(t, ok)
}

func TestRetryItem(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})

	assert.ErrorIs(t, q.RetryItem(ctx, "missing"), ErrItemNotFound)

	_, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	assert.ErrorIs(t, q.RetryItem(ctx, id), ErrItemProcessing)
	require.NoError(t, q.MarkFailed(ctx, id, errBoom))

	exhaust(t, q, clk, id)
	require.NoError(t, q.RetryItem(ctx, id))
	item, _ := q.Get(id)
	assert.Equal(t, domain.QueueItemStatusPending, item.Status())
}

func TestClearFailed(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	failed := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})
	exhaust(t, q, clk, failed)
	pending := mustEnqueue(t, q, domain.AddContact{ContactID: "c", Name: "A"})

	assert.Equal(t, 1, q.ClearFailed(ctx))
	assert.False(t, q.Contains(failed))
	assert.True(t, q.Contains(pending))
}

func TestExpireFailed(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()
	id := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})
	exhaust(t, q, clk, id)

	assert.Equal(t, 0, q.ExpireFailed(ctx, 24*time.Hour))
	clk.Advance(25 * time.Hour)
	assert.Equal(t, 1, q.ExpireFailed(ctx, 24*time.Hour))
	assert.Equal(t, 0, q.Len())
}

func TestRemoveAndClear(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	a := mustEnqueue(t, q, domain.AddContact{ContactID: "a", Name: "A"})
	mustEnqueue(t, q, domain.AddContact{ContactID: "b", Name: "B"})
	mustEnqueue(t, q, domain.AddContact{ContactID: "c", Name: "C"})

	assert.True(t, q.Remove(ctx, a))
	assert.False(t, q.Remove(ctx, a))
	assert.Equal(t, 2, q.Clear(ctx))
	assert.Equal(t, 0, q.Len())
}

func TestStats(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, domain.AddContact{ContactID: "a", Name: "A"})
	clk.Advance(time.Minute)
	mustEnqueue(t, q, domain.AddContact{ContactID: "b", Name: "B"})
	mustEnqueue(t, q, domain.RemoveContact{ContactID: "c"})

	_, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	clk.Advance(time.Minute)

	s := q.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 1, s.Processing)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 2*time.Minute, s.OldestAge)
	assert.InDelta(t, 1.0/3.0, s.AvgAttempts, 0.0001)
	assert.Equal(t, 2, s.ByKind[domain.KindAddContact])
}

// ============================================================================
// Concurrency
// ============================================================================

func TestDequeue_ConcurrentUnique(t *testing.T) {
	q := New(Config{UrgentThreshold: 90, Backoff: retry.Fixed{}}, nil, nil, nil)
	ctx := context.Background()

	const n = 200
	for i := 0; i < n; i++ {
		mustEnqueue(t, q, domain.RemoveContact{ContactID: "c"})
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := q.DequeueNext(ctx)
				if !ok {
					return
				}
				mu.Lock()
				seen[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "item %s dequeued more than once", id)
	}
}

// ============================================================================
// Persistence
// ============================================================================

type failingStore struct{ saves int }

func (s *failingStore) Load(context.Context) ([]*domain.QueueItem, error) {
	return nil, errors.New("disk gone")
}

func (s *failingStore) Save(context.Context, []*domain.QueueItem) error {
	s.saves++
	return errors.New("disk gone")
}

func TestPersistence_RoundTrip(t *testing.T) {
	store := memory.NewQueueStore()
	clk := clock.NewFake(time.Unix(1000, 0))
	ctx := context.Background()

	q := New(DefaultConfig(), store, clk, nil)
	low := mustEnqueue(t, q, domain.MarkNotificationRead{NotificationID: "n1"})
	high := mustEnqueue(t, q, domain.TriggerEmergencyAlert{AlertID: "a1", RaisedAt: clk.Now()})
	claimed, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	require.Equal(t, high, claimed.ID)

	restored := New(DefaultConfig(), store, clk, nil)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, 2, restored.Len())

	// The item that was processing at shutdown is released.
	item, ok := restored.Get(high)
	require.True(t, ok)
	assert.False(t, item.Processing)
	assert.Equal(t, 1, item.Attempts)

	all := restored.GetAll()
	assert.Equal(t, high, all[0].ID)
	assert.Equal(t, low, all[1].ID)

	// New items keep ordering relative to restored ones.
	later := mustEnqueue(t, restored, domain.MarkNotificationRead{NotificationID: "n2"})
	all = restored.GetAll()
	assert.Equal(t, later, all[2].ID)
}

func TestPersistence_ErrorsDoNotChangeSemantics(t *testing.T) {
	store := &failingStore{}
	q := New(DefaultConfig(), store, nil, nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.AddContact{ContactID: "a", Name: "A"})
	require.NoError(t, err)
	item, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, item.ID)
	q.MarkCompleted(ctx, id)

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 3, store.saves)
	assert.Error(t, q.Load(ctx))
}

func TestPersistence_SavesEveryMutation(t *testing.T) {
	store := memory.NewQueueStore()
	q := New(DefaultConfig(), store, nil, nil)
	ctx := context.Background()

	id := mustEnqueue(t, q, domain.AddContact{ContactID: "a", Name: "A"})
	_, _ = q.DequeueNext(ctx)
	q.MarkCompleted(ctx, id)
	q.MarkCompleted(ctx, id)

	assert.Equal(t, 3, store.Saves())
	items, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}
