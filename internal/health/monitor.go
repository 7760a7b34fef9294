package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/offlinesync/internal/connectivity"
	"github.com/vietddude/offlinesync/internal/core/clock"
	"github.com/vietddude/offlinesync/internal/queue"
)

// DefaultCacheTTL bounds how often dependency checks actually run.
const DefaultCacheTTL = 10 * time.Second

// Thresholds that turn queue backlog into a degraded or critical status.
const (
	degradedPending = 100
	criticalPending = 1000
	criticalFailed  = 50
)

// Checker is a dependency that can report its own health.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// Monitor aggregates health status from various system components.
type Monitor struct {
	connectivity *connectivity.Monitor
	queue        *queue.Queue
	checkers     map[string]Checker
	clock        clock.Clock
	ttl          time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. checkers may be nil.
func NewMonitor(conn *connectivity.Monitor, q *queue.Queue, checkers map[string]Checker, clk clock.Clock) *Monitor {
	if checkers == nil {
		checkers = make(map[string]Checker)
	}
	return &Monitor{
		connectivity: conn,
		queue:        q,
		checkers:     checkers,
		clock:        clock.OrReal(clk),
		ttl:          DefaultCacheTTL,
	}
}

// CheckHealth builds a report. Dependency checks are cached for the TTL;
// connectivity and queue figures are always current.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var components map[string]ComponentHealth
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.ttl {
		components = m.lastReport.Components
	} else {
		components = make(map[string]ComponentHealth, len(m.checkers))
		for name, c := range m.checkers {
			h := ComponentHealth{Status: StatusHealthy}
			if err := c.Health(ctx); err != nil {
				h.Status = StatusCritical
				h.Error = err.Error()
			}
			components[name] = h
		}
		m.lastCheck = now
	}

	report := HealthReport{
		Connectivity: ConnectivityHealth{
			State:      m.connectivity.CurrentState(),
			Connected:  m.connectivity.IsConnected(),
			LastChange: m.connectivity.LastChange(),
		},
		Queue:      m.queue.Stats(),
		Components: components,
		CheckedAt:  now,
	}
	report.SystemStatus = evaluate(report)
	m.lastReport = &report
	return report
}

// evaluate picks the worst status across components and backlog.
// Being offline is expected for this service and only degrades.
func evaluate(r HealthReport) SystemStatus {
	status := StatusHealthy
	for _, c := range r.Components {
		if c.Status == StatusCritical {
			return StatusCritical
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	if r.Queue.Pending > criticalPending || r.Queue.Failed > criticalFailed {
		return StatusCritical
	}
	if !r.Connectivity.Connected || r.Queue.Pending > degradedPending || r.Queue.Failed > 0 {
		status = StatusDegraded
	}
	return status
}
