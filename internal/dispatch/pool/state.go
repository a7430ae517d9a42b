package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

// StateStore persists credential usage between runs.
type StateStore interface {
	LoadUsage(ctx context.Context) ([]domain.CredentialUsage, error)
	SaveUsage(ctx context.Context, usage []domain.CredentialUsage) error
}

// Snapshot captures the persistable state of every credential.
func (p *Pool) Snapshot() []domain.CredentialUsage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.CredentialUsage, 0, len(p.order))
	for _, id := range p.order {
		c := p.creds[id]
		out = append(out, domain.CredentialUsage{
			ID:            c.ID,
			UsedToday:     c.UsedToday,
			UsedTotal:     c.UsedTotal,
			Disabled:      c.State == domain.CredentialDisabled,
			Exhausted:     c.State == domain.CredentialExhausted,
			CooldownUntil: c.CooldownUntil,
			LastUsedAt:    c.LastUsedAt,
			ResetAt:       p.resetAt,
			State:         c.State,
		})
	}
	return out
}

// Restore applies persisted usage to registered credentials. Unknown IDs
// are ignored. Daily counters recorded before the last reset boundary
// are dropped.
func (p *Pool) Restore(usage []domain.CredentialUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	for _, u := range usage {
		c, ok := p.creds[u.ID]
		if !ok {
			continue
		}
		stale := !u.ResetAt.IsZero() && !now.Before(u.ResetAt)

		c.UsedTotal = u.UsedTotal
		c.LastUsedAt = u.LastUsedAt
		c.UsedToday = u.UsedToday
		if stale {
			c.UsedToday = 0
		}

		switch {
		case u.Disabled:
			c.State = domain.CredentialDisabled
		case u.Exhausted && !stale:
			c.State = domain.CredentialExhausted
		case p.quotaReachedLocked(c):
			c.State = domain.CredentialExhausted
		case now.Before(u.CooldownUntil):
			c.State = domain.CredentialCooldown
			c.CooldownUntil = u.CooldownUntil
		default:
			c.State = domain.CredentialAvailable
			c.CooldownUntil = time.Time{}
		}
	}
}

// LoadState restores usage from store.
func (p *Pool) LoadState(ctx context.Context, store StateStore) error {
	usage, err := store.LoadUsage(ctx)
	if err != nil {
		return fmt.Errorf("load credential usage: %w", err)
	}
	p.Restore(usage)
	p.logger.Info("Credential usage restored", "count", len(usage))
	return nil
}

// SaveState writes the current usage to store.
func (p *Pool) SaveState(ctx context.Context, store StateStore) error {
	if err := store.SaveUsage(ctx, p.Snapshot()); err != nil {
		return fmt.Errorf("save credential usage: %w", err)
	}
	return nil
}
