package dispatch

import (
	"math"
	"time"

	"github.com/vietddude/lingo/internal/dispatch/classify"
)

// Backoff is exponential delay between same-credential attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before retry number attempt, counting from 0.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// Policy decides how failed units are retried. It is a plain value so
// callers can tune it per job.
type Policy struct {
	// MaxSameCredentialAttempts counts every attempt on one credential,
	// the first included.
	MaxSameCredentialAttempts int
	// MaxCrossCredentialAttempts is how many times a unit may move to a
	// different credential.
	MaxCrossCredentialAttempts int
	CrossCredentialRetry       bool
	Backoff                    Backoff
	// Cooldown is the minimum rest for a rate-limited credential.
	Cooldown   time.Duration
	Classifier classify.Classifier
}

// DefaultPolicy provides sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxSameCredentialAttempts:  3,
		MaxCrossCredentialAttempts: 2,
		CrossCredentialRetry:       true,
		Backoff: Backoff{
			Initial:    1 * time.Second,
			Max:        30 * time.Second,
			Multiplier: 2.0,
		},
		Cooldown:   60 * time.Second,
		Classifier: classify.Default,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxSameCredentialAttempts < 1 {
		p.MaxSameCredentialAttempts = 1
	}
	if p.MaxCrossCredentialAttempts < 0 {
		p.MaxCrossCredentialAttempts = 0
	}
	if p.Classifier == nil {
		p.Classifier = classify.Default
	}
	return p
}

// cooldownFor honours a provider's Retry-After when it asks for longer.
func (p Policy) cooldownFor(v classify.Verdict) time.Duration {
	return max(p.Cooldown, v.RetryAfter)
}
