// Package pool tracks translation credentials and hands them out.
//
// A Pool holds every registered credential with its quotas and live usage.
// Acquire selects a credential that is neither exhausted, disabled nor
// cooling down, counts the use against its daily and lifetime quotas and
// returns a copy. Daily counters reset lazily at the first operation after
// local midnight.
package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/domain"
)

// Strategy selects among qualifying credentials.
type Strategy int

const (
	StrategyRoundRobin        Strategy = iota // Sequential rotation in registration order
	StrategyLeastRecentlyUsed                 // Oldest LastUsedAt first
)

// AcquireOptions tune a single Acquire call.
type AcquireOptions struct {
	Exclude  map[string]bool
	Strategy Strategy
}

// WindowReporter reports free rate-window slots for a credential.
type WindowReporter interface {
	Remaining(id string) int
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithLocation sets the timezone whose midnight resets daily counters.
func WithLocation(loc *time.Location) Option {
	return func(p *Pool) { p.loc = loc }
}

// WithWindow attaches a rate window reporter used by Stats.
func WithWindow(w WindowReporter) Option {
	return func(p *Pool) { p.window = w }
}

// Pool is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	clock   clock.Clock
	loc     *time.Location
	window  WindowReporter
	creds   map[string]*domain.Credential
	order   []string
	cursor  int
	resetAt time.Time
	logger  *slog.Logger
}

// New creates an empty pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		clock:  clock.Real{},
		loc:    time.Local,
		creds:  make(map[string]*domain.Credential),
		logger: slog.Default().With("component", "pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.resetAt = nextMidnight(p.clock.Now(), p.loc)
	return p
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)
}

// Register adds a credential. IDs are unique.
func (p *Pool) Register(d domain.CredentialDescriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidCredential)
	}
	if d.RPM < 0 || d.RPD < 0 || d.TotalLimit < 0 {
		return fmt.Errorf("%w: negative limit for %s", ErrInvalidCredential, d.ID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.creds[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCredential, d.ID)
	}
	p.creds[d.ID] = &domain.Credential{
		ID:         d.ID,
		Provider:   d.Provider,
		Secret:     d.Secret,
		RPM:        d.RPM,
		RPD:        d.RPD,
		TotalLimit: d.TotalLimit,
		State:      domain.CredentialAvailable,
	}
	p.order = append(p.order, d.ID)
	p.logger.Info("Credential registered", "id", d.ID, "provider", d.Provider, "rpm", d.RPM, "rpd", d.RPD)
	return nil
}

// Acquire returns a qualifying credential and counts one use against it.
// It returns ErrPoolExhausted when nothing is usable at all and an
// *UnavailableError when usable credentials are cooling down or excluded.
func (p *Pool) Acquire(opts AcquireOptions) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.maybeResetLocked(now)

	n := len(p.order)
	usable := 0
	var retryAt time.Time
	var chosen *domain.Credential
	chosenIdx := -1

	start := 0
	if opts.Strategy == StrategyRoundRobin && n > 0 {
		start = p.cursor % n
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		c := p.creds[p.order[idx]]
		p.refreshLocked(c, now)

		if c.State == domain.CredentialExhausted || c.State == domain.CredentialDisabled {
			continue
		}
		usable++
		if opts.Exclude[c.ID] {
			continue
		}
		if c.State == domain.CredentialCooldown {
			if retryAt.IsZero() || c.CooldownUntil.Before(retryAt) {
				retryAt = c.CooldownUntil
			}
			continue
		}

		switch opts.Strategy {
		case StrategyLeastRecentlyUsed:
			// Iteration follows registration order, so strict comparison keeps ties stable.
			if chosen == nil || c.LastUsedAt.Before(chosen.LastUsedAt) {
				chosen, chosenIdx = c, idx
			}
		default:
			if chosen == nil {
				chosen, chosenIdx = c, idx
			}
		}
	}

	if usable == 0 {
		return domain.Credential{}, ErrPoolExhausted
	}
	if chosen == nil {
		return domain.Credential{}, &UnavailableError{RetryAt: retryAt}
	}
	if opts.Strategy == StrategyRoundRobin {
		p.cursor = chosenIdx + 1
	}

	p.useLocked(chosen, now)
	return *chosen, nil
}

// Reuse counts another use of a specific credential, for retries that
// stay on the same key. It fails if the credential is no longer usable.
func (p *Pool) Reuse(id string) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.maybeResetLocked(now)

	c, ok := p.creds[id]
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	p.refreshLocked(c, now)
	if c.State != domain.CredentialAvailable {
		return domain.Credential{}, fmt.Errorf("%w: %s is %s", ErrCredentialUnusable, id, c.State)
	}
	p.useLocked(c, now)
	return *c, nil
}

func (p *Pool) useLocked(c *domain.Credential, now time.Time) {
	c.UsedToday++
	c.UsedTotal++
	c.LastUsedAt = now
	if p.quotaReachedLocked(c) {
		c.State = domain.CredentialExhausted
		p.logger.Warn("Credential quota reached", "id", c.ID, "used_today", c.UsedToday, "used_total", c.UsedTotal)
	}
}

func (p *Pool) quotaReachedLocked(c *domain.Credential) bool {
	if c.RPD > 0 && c.UsedToday >= c.RPD {
		return true
	}
	return c.TotalLimit > 0 && c.UsedTotal >= c.TotalLimit
}

func (p *Pool) refreshLocked(c *domain.Credential, now time.Time) {
	if c.State == domain.CredentialCooldown && !now.Before(c.CooldownUntil) {
		c.State = domain.CredentialAvailable
		c.CooldownUntil = time.Time{}
	}
}

// MarkCooldown makes a credential unselectable for d. Overlapping
// cooldowns keep the later expiry.
func (p *Pool) MarkCooldown(id string, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	if c.State == domain.CredentialExhausted || c.State == domain.CredentialDisabled {
		return nil
	}
	until := p.clock.Now().Add(d)
	if c.State == domain.CredentialCooldown && c.CooldownUntil.After(until) {
		return nil
	}
	c.State = domain.CredentialCooldown
	c.CooldownUntil = until
	p.logger.Info("Credential cooling down", "id", id, "until", until.Format(time.RFC3339))
	return nil
}

// MarkExhausted removes a credential from selection until the next daily reset.
func (p *Pool) MarkExhausted(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	if c.State == domain.CredentialDisabled {
		return nil
	}
	c.State = domain.CredentialExhausted
	c.CooldownUntil = time.Time{}
	p.logger.Warn("Credential marked exhausted", "id", id)
	return nil
}

// Disable removes a credential from selection until Enable.
func (p *Pool) Disable(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	c.State = domain.CredentialDisabled
	c.CooldownUntil = time.Time{}
	p.logger.Info("Credential disabled", "id", id)
	return nil
}

// Enable returns a disabled credential to service.
func (p *Pool) Enable(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	if c.State != domain.CredentialDisabled {
		return nil
	}
	c.State = domain.CredentialAvailable
	if p.quotaReachedLocked(c) {
		c.State = domain.CredentialExhausted
	}
	return nil
}

// ResetDaily zeroes daily counters immediately.
func (p *Pool) ResetDaily() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(p.clock.Now())
}

func (p *Pool) maybeResetLocked(now time.Time) {
	if !now.Before(p.resetAt) {
		p.resetLocked(now)
	}
}

func (p *Pool) resetLocked(now time.Time) {
	for _, c := range p.creds {
		c.UsedToday = 0
		if c.State == domain.CredentialExhausted && !p.quotaReachedLocked(c) {
			c.State = domain.CredentialAvailable
		}
	}
	p.resetAt = nextMidnight(now, p.loc)
	p.logger.Info("Daily usage reset", "next_reset", p.resetAt.Format(time.RFC3339))
}

// Usable counts credentials that are not exhausted or disabled.
func (p *Pool) Usable() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.maybeResetLocked(now)
	n := 0
	for _, c := range p.creds {
		if c.State != domain.CredentialExhausted && c.State != domain.CredentialDisabled {
			n++
		}
	}
	return n
}

// Len returns the number of registered credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Get returns a copy of a credential.
func (p *Pool) Get(id string) (domain.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return domain.Credential{}, false
	}
	p.refreshLocked(c, p.clock.Now())
	return *c, true
}

// Stats returns per-credential usage in registration order.
func (p *Pool) Stats() []domain.CredentialStats {
	p.mu.Lock()
	now := p.clock.Now()
	p.maybeResetLocked(now)
	stats := make([]domain.CredentialStats, 0, len(p.order))
	for _, id := range p.order {
		c := p.creds[id]
		p.refreshLocked(c, now)
		stats = append(stats, domain.CredentialStats{
			ID:            c.ID,
			Provider:      c.Provider,
			State:         c.State,
			RPM:           c.RPM,
			RPD:           c.RPD,
			TotalLimit:    c.TotalLimit,
			UsedToday:     c.UsedToday,
			UsedTotal:     c.UsedTotal,
			CooldownUntil: c.CooldownUntil,
			LastUsedAt:    c.LastUsedAt,
		})
	}
	p.mu.Unlock()

	// The window has its own lock.
	if p.window != nil {
		for i := range stats {
			stats[i].WindowFree = p.window.Remaining(stats[i].ID)
		}
	}
	return stats
}
