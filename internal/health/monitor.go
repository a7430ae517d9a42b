package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/infra/provider"
)

// PoolSource exposes credential state.
type PoolSource interface {
	Stats() []domain.CredentialStats
	Usable() int
}

// ProviderSource exposes adapter health.
type ProviderSource interface {
	Health() map[string]provider.HealthStatus
}

// QueueSource reports the depth of the shared job queue.
type QueueSource interface {
	QueueDepth(ctx context.Context, queue string) (waiting, leased int64, err error)
}

const (
	queueTimeout      = 2 * time.Second
	checkInterval     = 10 * time.Second
	degradedErrorRate = 0.2
	criticalErrorRate = 0.5
)

// Monitor aggregates health status from the pool and the provider adapters.
type Monitor struct {
	pool       PoolSource
	providers  ProviderSource
	queue      QueueSource
	queueName  string
	clock      clock.Clock
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. providers may be nil.
func NewMonitor(pool PoolSource, providers ProviderSource, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Monitor{pool: pool, providers: providers, clock: clk}
}

// WatchQueue adds the named shared queue to the report.
func (m *Monitor) WatchQueue(q QueueSource, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue, m.queueName = q, name
	m.lastReport = nil
}

// CheckHealth builds a report, reusing the previous one for a few seconds.
func (m *Monitor) CheckHealth() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < checkInterval {
		return *m.lastReport
	}

	report := HealthReport{
		Pool:      m.poolHealth(),
		Providers: make(map[string]ProviderHealth),
		CheckedAt: now,
	}
	report.SystemStatus = report.Pool.Status

	if m.providers != nil {
		for name, h := range m.providers.Health() {
			ph := ProviderHealth{Name: name, Status: providerStatus(h), HealthStatus: h}
			report.Providers[name] = ph
			if ph.Status != StatusHealthy && report.SystemStatus == StatusHealthy {
				report.SystemStatus = StatusDegraded
			}
		}
	}

	if m.queue != nil {
		report.Queue = m.queueHealth()
		if report.Queue.Status != StatusHealthy && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}

func (m *Monitor) poolHealth() PoolHealth {
	stats := m.pool.Stats()
	ph := PoolHealth{Total: len(stats), Usable: m.pool.Usable()}
	for _, s := range stats {
		switch s.State {
		case domain.CredentialCooldown:
			ph.Cooldown++
		case domain.CredentialExhausted:
			ph.Exhausted++
		case domain.CredentialDisabled:
			ph.Disabled++
		}
	}

	switch {
	case ph.Usable == 0:
		ph.Status = StatusCritical
	case ph.Usable < ph.Total:
		ph.Status = StatusDegraded
	default:
		ph.Status = StatusHealthy
	}
	return ph
}

func (m *Monitor) queueHealth() *QueueHealth {
	ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
	defer cancel()

	qh := &QueueHealth{Name: m.queueName, Status: StatusHealthy}
	waiting, leased, err := m.queue.QueueDepth(ctx, m.queueName)
	if err != nil {
		qh.Status = StatusDegraded
		qh.Error = err.Error()
		return qh
	}
	qh.Waiting, qh.Leased = waiting, leased
	return qh
}

func providerStatus(h provider.HealthStatus) SystemStatus {
	switch {
	case !h.Available || h.ErrorRate >= criticalErrorRate:
		return StatusCritical
	case h.ErrorRate >= degradedErrorRate:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
