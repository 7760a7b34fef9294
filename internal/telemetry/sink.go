// Package telemetry records sync engine measurements. Nothing recorded here
// feeds back into control flow.
package telemetry

import (
	"time"

	"github.com/vietddude/offlinesync/internal/core/domain"
)

// Attempt paths.
const (
	PathDirect = "direct"
	PathDrain  = "drain"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeQueued  = "queued"
)

// QueueSnapshot is the subset of queue statistics exported as gauges.
type QueueSnapshot struct {
	Total      int
	Pending    int
	Failed     int
	Processing int
	OldestAge  time.Duration
}

// Sink receives sync engine events.
type Sink interface {
	RecordAttempt(kind domain.ActionKind, path string)
	RecordOutcome(kind domain.ActionKind, outcome, category string, duration time.Duration)
	RecordRetry(kind domain.ActionKind, category string, delay time.Duration)
	RecordQueueOp(op string)
	RecordQueueStats(s QueueSnapshot)
	RecordPersistError(op string)
	RecordConnectivity(state domain.ConnectivityState)
	RecordProbe(latency time.Duration)
	RecordDrain(trigger string, processed int)
}

// Prometheus exports events through the package-level collectors.
type Prometheus struct{}

// NewPrometheus returns the Prometheus sink.
func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

func (Prometheus) RecordAttempt(kind domain.ActionKind, path string) {
	attemptsTotal.WithLabelValues(string(kind), path).Inc()
}

func (Prometheus) RecordOutcome(kind domain.ActionKind, outcome, category string, duration time.Duration) {
	outcomesTotal.WithLabelValues(string(kind), outcome, category).Inc()
	if duration > 0 {
		executeDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	}
}

func (Prometheus) RecordRetry(kind domain.ActionKind, category string, delay time.Duration) {
	retriesTotal.WithLabelValues(string(kind), category).Inc()
	retryDelay.Observe(delay.Seconds())
}

func (Prometheus) RecordQueueOp(op string) {
	queueOps.WithLabelValues(op).Inc()
}

func (Prometheus) RecordQueueStats(s QueueSnapshot) {
	queueSize.WithLabelValues("total").Set(float64(s.Total))
	queueSize.WithLabelValues("pending").Set(float64(s.Pending))
	queueSize.WithLabelValues("failed").Set(float64(s.Failed))
	queueSize.WithLabelValues("processing").Set(float64(s.Processing))
	queueOldestAge.Set(s.OldestAge.Seconds())
}

func (Prometheus) RecordPersistError(op string) {
	persistErrors.WithLabelValues(op).Inc()
}

func (Prometheus) RecordConnectivity(state domain.ConnectivityState) {
	for _, s := range []domain.ConnectivityState{
		domain.ConnectivityOnline,
		domain.ConnectivityLimited,
		domain.ConnectivityOffline,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		connectivityState.WithLabelValues(string(s)).Set(v)
	}
	connectivityTransitions.WithLabelValues(string(state)).Inc()
}

func (Prometheus) RecordProbe(latency time.Duration) {
	probeLatency.Observe(latency.Seconds())
}

func (Prometheus) RecordDrain(trigger string, processed int) {
	drainsTotal.WithLabelValues(trigger).Inc()
	drainProcessed.Add(float64(processed))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAttempt(domain.ActionKind, string)                        {}
func (Nop) RecordOutcome(domain.ActionKind, string, string, time.Duration) {}
func (Nop) RecordRetry(domain.ActionKind, string, time.Duration)           {}
func (Nop) RecordQueueOp(string)                                           {}
func (Nop) RecordQueueStats(QueueSnapshot)                                 {}
func (Nop) RecordPersistError(string)                                      {}
func (Nop) RecordConnectivity(domain.ConnectivityState)                    {}
func (Nop) RecordProbe(time.Duration)                                      {}
func (Nop) RecordDrain(string, int)                                        {}

// OrNop returns s, or a Nop sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
