package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "offlinesync"

var (
	// attemptsTotal tracks executor attempts per action kind
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "attempts_total",
			Help:      "Total number of executor attempts",
		},
		[]string{"kind", "path"},
	)

	// outcomesTotal tracks terminal outcomes per action kind
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "outcomes_total",
			Help:      "Total number of terminal action outcomes",
		},
		[]string{"kind", "outcome", "category"},
	)

	executeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "duration_seconds",
			Help:      "Time spent executing an action, retries included",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "scheduled_total",
			Help:      "Total number of retries scheduled by the retry engine",
		},
		[]string{"kind", "category"},
	)

	retryDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "delay_seconds",
			Help:      "Backoff delay before the next attempt",
			Buckets:   []float64{.1, .5, 1, 2, 4, 8, 16, 32, 60},
		},
	)

	// queueSize tracks queue items by status
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of queue items by status",
		},
		[]string{"status"},
	)

	queueOldestAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "oldest_item_age_seconds",
			Help:      "Age of the oldest queued item",
		},
	)

	queueOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Total number of queue mutations",
		},
		[]string{"op"},
	)

	persistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "persist_errors_total",
			Help:      "Total number of failed queue snapshot operations",
		},
		[]string{"op"},
	)

	connectivityState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "state",
			Help:      "Current connectivity state (1 for the active state)",
		},
		[]string{"state"},
	)

	connectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "transitions_total",
			Help:      "Total number of connectivity transitions by target state",
		},
		[]string{"state"},
	)

	probeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "probe_latency_seconds",
			Help:      "Reachability probe latency",
			Buckets:   prometheus.DefBuckets,
		},
	)

	drainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drains_total",
			Help:      "Total number of queue drains by trigger",
		},
		[]string{"trigger"},
	)

	drainProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drained_items_total",
			Help:      "Total number of items taken from the queue by drains",
		},
	)
)

// DBConnectionPoolUsage tracks SQL pool usage in percent.
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "db_pool_usage_percent",
		Help:      "Open connections as a percentage of the pool limit",
	},
)
