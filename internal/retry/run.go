package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vietddude/offlinesync/internal/core/clock"
)

// AbandonWait bounds how long Run waits for a cancelled attempt to return
// after the timeout or the caller ends the run.
var AbandonWait = 5 * time.Second

// Operation is one attempt of a retried call.
type Operation[T any] func(ctx context.Context) (T, error)

// Do runs op under p, discarding the result value.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run executes op with retries and exponential backoff.
//
// It always returns a terminal outcome: the success value, *NotRetryableError,
// *MaxAttemptsError, *TimeoutError or ErrCancelled. When p.Timeout is set the
// attempts race a timer; the losing side is cancelled, and Run waits up to
// AbandonWait for an in-flight attempt to return before reporting.
func Run[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	if p.Timeout <= 0 {
		res, _ := runAttempts(ctx, p, op)
		return res.value, res.err
	}

	clk := clock.OrReal(p.Clock)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result[T], 1)
	var lastErr lastError
	go func() {
		res, _ := runAttempts(runCtx, p, func(ctx context.Context) (T, error) {
			v, err := op(ctx)
			if err != nil {
				lastErr.set(err)
			}
			return v, err
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-clk.After(p.Timeout):
		last := lastErr.get()
		cancel()
		awaitAbandoned(done)
		var zero T
		return zero, &TimeoutError{Duration: p.Timeout, LastErr: last}
	case <-ctx.Done():
		cancel()
		awaitAbandoned(done)
		var zero T
		return zero, ErrCancelled
	}
}

// awaitAbandoned waits for the cancelled attempt loop to finish.
func awaitAbandoned[T any](done <-chan result[T]) {
	timer := time.NewTimer(AbandonWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

type result[T any] struct {
	value T
	err   error
}

// lastError records the latest attempt failure for timeout reporting.
type lastError struct {
	mu  sync.Mutex
	err error
}

func (l *lastError) set(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *lastError) get() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// runAttempts is the attempt loop. The int result is the number of attempts made.
func runAttempts[T any](ctx context.Context, p Policy, op Operation[T]) (result[T], int) {
	var zero T
	clk := clock.OrReal(p.Clock)

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return result[T]{zero, ErrCancelled}, attempt - 1
		}

		value, err := op(ctx)
		if err == nil {
			return result[T]{value, nil}, attempt
		}
		lastErr = err

		// The caller gave up; an error caused by that is not the operation's fault.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return result[T]{zero, ErrCancelled}, attempt
		}

		if !ShouldRetry(err, attempt, p) {
			return result[T]{zero, &NotRetryableError{Attempt: attempt, Err: err}}, attempt
		}

		if attempt == maxAttempts {
			break
		}

		delay := Delay(p.Strategy, attempt)
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return result[T]{zero, ErrCancelled}, attempt
		case <-clk.After(delay):
		}
	}

	return result[T]{zero, &MaxAttemptsError{Attempts: maxAttempts, LastErr: lastErr}}, maxAttempts
}
