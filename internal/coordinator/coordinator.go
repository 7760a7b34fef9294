// Package coordinator decides whether an action runs now or waits in the
// queue, and drains the queue whenever connectivity allows.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/vietddude/offlinesync/internal/connectivity"
	"github.com/vietddude/offlinesync/internal/core/clock"
	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/executor"
	"github.com/vietddude/offlinesync/internal/pkg/ctxlog"
	"github.com/vietddude/offlinesync/internal/queue"
	"github.com/vietddude/offlinesync/internal/retry"
	"github.com/vietddude/offlinesync/internal/telemetry"
)

// ErrInvalidAction is returned for actions that fail validation.
var ErrInvalidAction = errors.New("invalid action")

// Drain triggers.
const (
	TriggerReconnect = "reconnect"
	TriggerTick      = "tick"
	TriggerForce     = "force"
)

// Executor performs an action against the backend.
type Executor interface {
	Execute(ctx context.Context, action domain.Action) error
}

// Config controls retry and drain pacing.
type Config struct {
	// Retry is the base policy for drained items. Its MaxAttempts is
	// ignored: every action kind carries its own budget.
	Retry retry.Policy

	// RateLimit caps drained attempts per second. Zero disables pacing.
	RateLimit float64
	Burst     int

	// Interval re-drains while connected so backoff-gated items are picked
	// up without a connectivity change.
	Interval time.Duration
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Retry:    retry.DefaultPolicy(),
		Interval: 5 * time.Second,
	}
}

// Result reports what ExecuteOrQueue did.
type Result struct {
	// Executed is true when the action succeeded immediately.
	Executed bool `json:"executed"`

	// QueuedID names the queue item when the action was queued.
	QueuedID string `json:"queued_id,omitempty"`
}

// Coordinator ties the monitor, queue and executor together.
type Coordinator struct {
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	executor Executor
	cfg      Config
	limiter  *rate.Limiter
	validate *validator.Validate
	clock    clock.Clock
	sink     telemetry.Sink
	log      *slog.Logger

	// drainMu serializes drains from the loop and ForceSyncNow.
	drainMu sync.Mutex
}

// New creates a coordinator.
func New(
	q *queue.Queue,
	monitor *connectivity.Monitor,
	exec Executor,
	cfg Config,
	clk clock.Clock,
	sink telemetry.Sink,
) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Coordinator{
		queue:    q,
		monitor:  monitor,
		executor: exec,
		cfg:      cfg,
		limiter:  limiter,
		validate: validator.New(),
		clock:    clock.OrReal(clk),
		sink:     telemetry.OrNop(sink),
		log:      slog.Default().With("component", "coordinator"),
	}
}

// Validate checks the action's payload constraints.
func (c *Coordinator) Validate(action domain.Action) error {
	if action == nil {
		return fmt.Errorf("%w: nil action", ErrInvalidAction)
	}
	if !action.Kind().IsKnown() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidAction, domain.ErrUnknownActionKind, action.Kind())
	}
	if err := c.validate.Struct(action); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	return nil
}

// ExecuteOrQueue runs action immediately when connected, and queues it when
// offline or when the immediate attempt fails. Errors are returned only for
// invalid actions or when the queue rejects the action.
func (c *Coordinator) ExecuteOrQueue(ctx context.Context, action domain.Action) (Result, error) {
	if err := c.Validate(action); err != nil {
		return Result{}, err
	}
	kind := action.Kind()

	if !c.monitor.IsConnected() {
		id, err := c.queue.Enqueue(ctx, action)
		if err != nil {
			return Result{}, fmt.Errorf("failed to queue action: %w", err)
		}
		c.sink.RecordOutcome(kind, telemetry.OutcomeQueued, "offline", 0)
		c.log.Debug("Offline, queued action", "kind", kind, "id", id)
		return Result{QueuedID: id}, nil
	}

	c.sink.RecordAttempt(kind, telemetry.PathDirect)
	start := c.clock.Now()
	err := c.executor.Execute(ctx, action)
	elapsed := c.clock.Now().Sub(start)
	if err == nil {
		c.sink.RecordOutcome(kind, telemetry.OutcomeSuccess, "", elapsed)
		return Result{Executed: true}, nil
	}

	category := retry.Classify(err)
	id, qerr := c.queue.EnqueueFailed(ctx, action, err)
	if qerr != nil {
		return Result{}, fmt.Errorf("failed to queue action after error %v: %w", err, qerr)
	}
	c.sink.RecordOutcome(kind, telemetry.OutcomeQueued, string(category), elapsed)
	c.log.Warn("Immediate execution failed, queued action",
		"kind", kind,
		"id", id,
		"category", category,
		"error", err,
	)
	return Result{QueuedID: id}, nil
}

// IsPending reports whether id is still in the queue in any state.
func (c *Coordinator) IsPending(id string) bool {
	return c.queue.Contains(id)
}

// PolicyFor returns the retry policy for one drained action. The attempt
// budget is the kind's MaxAttempts, non-retryable kinds get a single attempt,
// and retries stop as soon as connectivity drops.
func (c *Coordinator) PolicyFor(action domain.Action) retry.Policy {
	base := c.cfg.Retry
	kind := action.Kind()

	p := base
	if p.Clock == nil {
		p.Clock = c.clock
	}
	p.MaxAttempts = kind.MaxAttempts()
	if !kind.IsRetryable() {
		p.MaxAttempts = 1
	}

	p.Retryable = func(err error, attempt int) bool {
		if !c.monitor.IsConnected() {
			return false
		}
		return retry.ShouldRetry(err, attempt, base)
	}
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		category := retry.Classify(err)
		c.sink.RecordRetry(kind, string(category), delay)
		c.log.Debug("Retrying action",
			"kind", kind,
			"attempt", attempt,
			"delay", delay,
			"category", category,
			"error", err,
		)
		if base.OnRetry != nil {
			base.OnRetry(err, attempt, delay)
		}
	}
	return p
}

// policyForItem narrows PolicyFor to the budget the item has left. The
// dequeue that claimed it already counted the first attempt of this run.
func (c *Coordinator) policyForItem(item *domain.QueueItem) retry.Policy {
	p := c.PolicyFor(item.Action)
	p.MaxAttempts = max(1, p.MaxAttempts-(item.Attempts-1))

	retryable := p.Retryable
	p.Retryable = func(err error, attempt int) bool {
		if errors.Is(err, queue.ErrItemNotFound) || errors.Is(err, queue.ErrItemNotClaimed) {
			return false
		}
		return retryable(err, attempt)
	}
	return p
}

// ForceSyncNow drains synchronously and returns the number of items taken
// from the queue. It does nothing while offline.
func (c *Coordinator) ForceSyncNow(ctx context.Context) int {
	return c.drain(ctx, TriggerForce)
}

// Run drains on every transition into a connected state, and periodically
// while connected, until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	sub := c.monitor.Subscribe()
	defer sub.Cancel()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.log.Info("Starting drain loop", "interval", c.cfg.Interval)

	connected := false
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Drain loop stopped")
			return nil

		case state, ok := <-sub.C():
			if !ok {
				c.log.Info("Connectivity stream closed, drain loop stopped")
				return nil
			}
			was := connected
			connected = state.IsConnected()
			if connected && !was {
				c.drain(ctx, TriggerReconnect)
			}

		case <-ticker.C:
			if connected && c.monitor.IsConnected() {
				c.drain(ctx, TriggerTick)
			}
		}
	}
}

// drain processes eligible items until none remain, connectivity drops or
// ctx is done.
func (c *Coordinator) drain(ctx context.Context, trigger string) int {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	processed := 0
	for ctx.Err() == nil && c.monitor.IsConnected() {
		// Pace before claiming so an interrupted wait leaves the queue untouched.
		if err := c.limiter.Wait(ctx); err != nil {
			c.log.Debug("Drain interrupted while pacing", "error", err)
			break
		}
		if !c.monitor.IsConnected() {
			break
		}
		item, ok := c.queue.DequeueNext(ctx)
		if !ok {
			break
		}
		processed++
		c.process(ctx, item)
	}

	c.sink.RecordDrain(trigger, processed)
	c.sink.RecordQueueStats(c.queue.Stats().Snapshot())
	if processed > 0 {
		c.log.Info("Drain finished", "trigger", trigger, "processed", processed, "remaining", c.queue.Len())
	}
	return processed
}

// process runs one claimed item to a terminal outcome and releases it.
func (c *Coordinator) process(ctx context.Context, item *domain.QueueItem) {
	kind := item.Action.Kind()
	ictx, log := ctxlog.With(ctx,
		"item_id", item.ID,
		"kind", kind,
		"attempt", item.Attempts,
	)
	ictx = executor.WithIdempotencyKey(ictx, item.ID)

	// The claim must always be released, even when ctx is already cancelled.
	release := context.WithoutCancel(ctx)

	policy := c.policyForItem(item)
	var started atomic.Int32
	start := c.clock.Now()
	err := retry.Do(ictx, policy, func(ctx context.Context) error {
		// DequeueNext counted the first attempt; later ones are recorded here.
		if started.Load() > 0 {
			if err := c.queue.BeginAttempt(release, item.ID); err != nil {
				return fmt.Errorf("failed to record attempt: %w", err)
			}
		}
		started.Add(1)
		c.sink.RecordAttempt(kind, telemetry.PathDrain)
		return c.executor.Execute(ctx, item.Action)
	})
	elapsed := c.clock.Now().Sub(start)

	if started.Load() == 0 {
		if rerr := c.queue.Release(release, item.ID); rerr != nil {
			log.Error("Failed to release queue item", "error", rerr)
		}
		log.Debug("Released queue item before execution", "error", err)
		return
	}

	if err == nil {
		c.queue.MarkCompleted(release, item.ID)
		c.sink.RecordOutcome(kind, telemetry.OutcomeSuccess, "", elapsed)
		log.Debug("Delivered queued action", "latency", elapsed)
		return
	}

	category := retry.Classify(errors.Unwrap(err))
	if errors.Is(err, retry.ErrCancelled) {
		category = retry.CategoryCancelled
	}
	if mfErr := c.queue.MarkFailed(release, item.ID, err); mfErr != nil {
		log.Error("Failed to release queue item", "error", mfErr)
	}
	c.sink.RecordOutcome(kind, telemetry.OutcomeFailed, string(category), elapsed)
	log.Warn("Queued action failed", "category", category, "error", err)
}
