package dispatch

import (
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

// Observer receives dispatch events, typically for metrics.
type Observer interface {
	CallFinished(credentialID string, class domain.ErrorClass, latency time.Duration)
	Cooldown(credentialID string, d time.Duration)
	UnitFinished(outcome domain.UnitOutcome)
}

type noopObserver struct{}

func (noopObserver) CallFinished(string, domain.ErrorClass, time.Duration) {}
func (noopObserver) Cooldown(string, time.Duration)                       {}
func (noopObserver) UnitFinished(domain.UnitOutcome)                      {}
