package retry

import (
	"time"

	"github.com/vietddude/offlinesync/internal/core/clock"
)

// Policy defines retry behavior for one call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Strategy computes the wait between attempts.
	Strategy Strategy

	// Timeout bounds the whole call, sleeps included. Zero disables it.
	Timeout time.Duration

	// RetryableCategories replaces the default transient set when non-empty.
	RetryableCategories []Category

	// Retryable overrides every other retry decision when set.
	Retryable func(err error, attempt int) bool

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(err error, attempt int, delay time.Duration)

	// Clock drives sleeps and the timeout timer. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultPolicy provides sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    DefaultBackoff(),
		Timeout:     2 * time.Minute,
	}
}

// WithMaxAttempts returns a copy of p with a different attempt budget.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// ShouldRetry decides whether err on the given attempt should be retried.
// Attempt limits are not checked here.
//
// Precedence: the custom predicate, then the configured categories, then the
// default transient heuristic.
func ShouldRetry(err error, attempt int, p Policy) bool {
	if err == nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err, attempt)
	}
	if len(p.RetryableCategories) > 0 {
		category := Classify(err)
		for _, c := range p.RetryableCategories {
			if c == category {
				return true
			}
		}
		return false
	}
	return IsTransient(err)
}
