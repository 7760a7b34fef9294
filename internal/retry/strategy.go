package retry

import (
	"math"
	"time"
)

// Strategy computes the wait before the next attempt.
// Attempt numbering starts at 1.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Exponential waits Base * Multiplier^(attempt-1), capped at Cap.
type Exponential struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// Delay implements Strategy.
func (s Exponential) Delay(attempt int) time.Duration {
	mult := s.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(s.Base) * math.Pow(mult, float64(attempt-1))
	if s.Cap > 0 && delay > float64(s.Cap) {
		return s.Cap
	}
	// Guard against float overflow past the int64 range when no cap is set.
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Linear waits Step * attempt.
type Linear struct {
	Step time.Duration
}

// Delay implements Strategy.
func (s Linear) Delay(attempt int) time.Duration {
	return s.Step * time.Duration(attempt)
}

// Fixed always waits Interval.
type Fixed struct {
	Interval time.Duration
}

// Delay implements Strategy.
func (s Fixed) Delay(int) time.Duration {
	return s.Interval
}

// Custom delegates to a caller-supplied function.
type Custom func(attempt int) time.Duration

// Delay implements Strategy.
func (f Custom) Delay(attempt int) time.Duration {
	return f(attempt)
}

// DefaultBackoff returns the backoff used when nothing is configured:
// 1s, 2s, 4s, ... capped at 60s.
func DefaultBackoff() Strategy {
	return Exponential{
		Base:       1 * time.Second,
		Multiplier: 2.0,
		Cap:        60 * time.Second,
	}
}

// Delay returns the wait for attempt under s. Attempts below 1 are treated as 1
// and negative results are clamped to zero. A nil strategy never waits.
func Delay(s Strategy, attempt int) time.Duration {
	if s == nil {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := s.Delay(attempt)
	if d < 0 {
		return 0
	}
	return d
}
