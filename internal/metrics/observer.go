package metrics

import (
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

// DispatchObserver records dispatcher events into the Prometheus registry.
type DispatchObserver struct{}

func (DispatchObserver) CallFinished(credentialID string, class domain.ErrorClass, latency time.Duration) {
	label := string(class)
	if class == domain.ClassNone {
		label = "ok"
	}
	ProviderCallsTotal.WithLabelValues(credentialID, label).Inc()
	ProviderLatency.WithLabelValues(credentialID).Observe(latency.Seconds())
}

func (DispatchObserver) Cooldown(credentialID string, _ time.Duration) {
	CredentialCooldowns.WithLabelValues(credentialID).Inc()
}

func (DispatchObserver) UnitFinished(outcome domain.UnitOutcome) {
	UnitsTotal.WithLabelValues(string(outcome.Status)).Inc()
	UnitAttempts.Observe(float64(outcome.Attempts))
}

// ObserveWait is a rate limiter observer hook.
func ObserveWait(credentialID string, _ time.Time, waited time.Duration) {
	RateLimitWait.WithLabelValues(credentialID).Observe(waited.Seconds())
}

// RecordUsage refreshes the credential gauges from admin stats.
func RecordUsage(stats []domain.CredentialStats) {
	usable := 0
	for _, s := range stats {
		CredentialUsedToday.WithLabelValues(s.ID).Set(float64(s.UsedToday))
		if s.State == domain.CredentialAvailable || s.State == domain.CredentialCooldown {
			usable++
		}
	}
	CredentialsUsable.Set(float64(usable))
}

// JobFinished counts a finished job.
func JobFinished(status domain.JobStatus) {
	JobsTotal.WithLabelValues(string(status)).Inc()
}
