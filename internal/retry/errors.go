package retry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMaxAttemptsReached matches any *MaxAttemptsError.
	ErrMaxAttemptsReached = errors.New("max attempts reached")

	// ErrNotRetryable matches any *NotRetryableError.
	ErrNotRetryable = errors.New("error is not retryable")

	// ErrTimeoutExceeded matches any *TimeoutError.
	ErrTimeoutExceeded = errors.New("retry timeout exceeded")

	// ErrCancelled is returned when the caller's context ends the run.
	ErrCancelled = errors.New("retry cancelled")
)

// MaxAttemptsError reports that every allowed attempt failed.
type MaxAttemptsError struct {
	Attempts int
	LastErr  error
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *MaxAttemptsError) Unwrap() error { return e.LastErr }

func (e *MaxAttemptsError) Is(target error) bool { return target == ErrMaxAttemptsReached }

// NotRetryableError reports a failure the policy refused to retry.
type NotRetryableError struct {
	Attempt int
	Err     error
}

func (e *NotRetryableError) Error() string {
	return fmt.Sprintf("not retryable (attempt %d): %v", e.Attempt, e.Err)
}

func (e *NotRetryableError) Unwrap() error { return e.Err }

func (e *NotRetryableError) Is(target error) bool { return target == ErrNotRetryable }

// TimeoutError reports that the overall policy timeout fired first.
type TimeoutError struct {
	Duration time.Duration
	LastErr  error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("timeout after %s: %v", e.Duration, e.LastErr)
	}
	return fmt.Sprintf("timeout after %s", e.Duration)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeoutExceeded }
