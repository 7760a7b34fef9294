// Package health provides system health monitoring and the admin HTTP surface.
package health

import (
	"time"

	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/queue"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the result of one dependency check.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// ConnectivityHealth summarizes the connectivity monitor.
type ConnectivityHealth struct {
	State      domain.ConnectivityState `json:"state"`
	Connected  bool                     `json:"connected"`
	LastChange time.Time                `json:"last_change"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Connectivity ConnectivityHealth         `json:"connectivity"`
	Queue        queue.Stats                `json:"queue"`
	Components   map[string]ComponentHealth `json:"components,omitempty"`
	CheckedAt    time.Time                  `json:"checked_at"`
}
