// Package health reports whether the service can still translate.
package health

import (
	"time"

	"github.com/vietddude/lingo/internal/infra/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PoolHealth summarizes the credential pool.
type PoolHealth struct {
	Status    SystemStatus `json:"status"`
	Total     int          `json:"total"`
	Usable    int          `json:"usable"`
	Cooldown  int          `json:"cooldown"`
	Exhausted int          `json:"exhausted"`
	Disabled  int          `json:"disabled"`
}

// ProviderHealth is the health of one translation endpoint.
type ProviderHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	provider.HealthStatus
}

// QueueHealth summarizes the shared job queue.
type QueueHealth struct {
	Name    string       `json:"name"`
	Status  SystemStatus `json:"status"`
	Waiting int64        `json:"waiting"`
	Leased  int64        `json:"leased"`
	Error   string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Pool         PoolHealth                `json:"pool"`
	Providers    map[string]ProviderHealth `json:"providers"`
	Queue        *QueueHealth              `json:"queue,omitempty"`
	CheckedAt    time.Time                 `json:"checked_at"`
}
