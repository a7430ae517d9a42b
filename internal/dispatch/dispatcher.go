// Package dispatch runs the units of a translation job against a pool of
// rate-limited credentials.
//
// This package contains:
//   - Dispatcher: per-unit acquire, admit, call, classify and retry loop
//   - Policy: retry budgets, backoff and cooldown
//   - Subpackages pool, ratelimit, chunk, classify and aggregate
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch/classify"
	"github.com/vietddude/lingo/internal/dispatch/pool"
)

// CredentialPool is the part of the pool the dispatcher needs.
type CredentialPool interface {
	Acquire(opts pool.AcquireOptions) (domain.Credential, error)
	Reuse(id string) (domain.Credential, error)
	MarkCooldown(id string, d time.Duration) error
	MarkExhausted(id string) error
	Get(id string) (domain.Credential, bool)
}

// RateLimiter admits requests per credential.
type RateLimiter interface {
	Wait(ctx context.Context, id string) error
}

// Translator performs one provider call. It must not retry internally.
type Translator interface {
	Translate(ctx context.Context, cred domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome
}

// Sink follows unit state. Transition reports non-terminal changes and
// Record receives the terminal outcome.
type Sink interface {
	Transition(index int, status domain.UnitStatus)
	Record(outcome domain.UnitOutcome) error
}

// Config holds dispatcher timing and concurrency.
type Config struct {
	// Concurrency bounds in-flight units in parallel mode.
	Concurrency int
	// InterUnitDelay spaces units in isolation mode.
	InterUnitDelay time.Duration
	// CallTimeout bounds one provider call.
	CallTimeout time.Duration
	// JobTimeout bounds a whole job. Zero disables it.
	JobTimeout time.Duration
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		InterUnitDelay: 0,
		CallTimeout:    2 * time.Minute,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source for delays and backoff.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithConfig sets timing and concurrency.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) { d.cfg = cfg }
}

// Dispatcher is safe to share between jobs.
type Dispatcher struct {
	pool       CredentialPool
	limiter    RateLimiter
	translator Translator
	policy     Policy
	cfg        Config
	clock      clock.Clock
	observer   Observer
	logger     *slog.Logger
}

// New creates a dispatcher.
func New(p CredentialPool, l RateLimiter, t Translator, policy Policy, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:       p,
		limiter:    l,
		translator: t,
		policy:     policy.normalized(),
		cfg:        DefaultConfig(),
		clock:      clock.Real{},
		observer:   noopObserver{},
		logger:     slog.Default().With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Concurrency < 1 {
		d.cfg.Concurrency = 1
	}
	return d
}

// Run dispatches every unit of job and records terminal outcomes in sink.
// It returns a *JobError when the job stops early because the pool is
// exhausted, the context is cancelled or the job timeout expires. Units
// that never settled are left unrecorded.
func (d *Dispatcher) Run(ctx context.Context, job domain.Job, sink Sink) error {
	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}

	log := d.logger.With("job_id", job.ID, "mode", job.Mode, "units", len(job.Units))
	log.Info("Dispatching job")

	var exhausted atomic.Bool
	switch job.Mode {
	case domain.ModeIsolation:
		d.runIsolation(ctx, job, sink, &exhausted)
	default:
		d.runParallel(ctx, job, sink, &exhausted)
	}

	switch {
	case exhausted.Load():
		log.Warn("Job stopped: credential pool exhausted")
		return &JobError{Condition: domain.ConditionPoolExhausted, Err: ErrPoolExhausted}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn("Job timed out")
		return &JobError{Condition: domain.ConditionTimedOut, Err: ctx.Err()}
	case ctx.Err() != nil:
		log.Info("Job cancelled")
		return &JobError{Condition: domain.ConditionCancelled, Err: ctx.Err()}
	}
	log.Info("Job dispatched")
	return nil
}

func (d *Dispatcher) runIsolation(ctx context.Context, job domain.Job, sink Sink, exhausted *atomic.Bool) {
	for i, unit := range job.Units {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && d.cfg.InterUnitDelay > 0 {
			if err := d.clock.Sleep(ctx, d.cfg.InterUnitDelay); err != nil {
				return
			}
		}
		if d.dispatchAndRecord(ctx, job, unit, pool.StrategyLeastRecentlyUsed, sink) {
			exhausted.Store(true)
			return
		}
	}
}

func (d *Dispatcher) runParallel(ctx context.Context, job domain.Job, sink Sink, exhausted *atomic.Bool) {
	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	var wg sync.WaitGroup

	for _, unit := range job.Units {
		if exhausted.Load() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if exhausted.Load() || ctx.Err() != nil {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(unit domain.Unit) {
			defer wg.Done()
			defer sem.Release(1)
			if d.dispatchAndRecord(ctx, job, unit, pool.StrategyRoundRobin, sink) {
				exhausted.Store(true)
			}
		}(unit)
	}
	wg.Wait()
}

// dispatchAndRecord reports whether the pool ran dry.
func (d *Dispatcher) dispatchAndRecord(ctx context.Context, job domain.Job, unit domain.Unit, strategy pool.Strategy, sink Sink) bool {
	outcome, settled, err := d.dispatchUnit(ctx, job, unit, strategy, sink)
	if !settled {
		sink.Transition(unit.Index, domain.UnitPending)
		return errors.Is(err, pool.ErrPoolExhausted)
	}
	d.observer.UnitFinished(outcome)
	if recErr := sink.Record(outcome); recErr != nil {
		d.logger.Error("Failed to record unit outcome", "job_id", job.ID, "unit", unit.Index, "error", recErr)
	}
	return errors.Is(err, pool.ErrPoolExhausted)
}

// dispatchUnit drives one unit to a terminal outcome. settled is false
// when the unit was abandoned or never attempted; err then explains why.
func (d *Dispatcher) dispatchUnit(
	ctx context.Context,
	job domain.Job,
	unit domain.Unit,
	strategy pool.Strategy,
	sink Sink,
) (domain.UnitOutcome, bool, error) {
	log := d.logger.With("job_id", job.ID, "unit", unit.Index)

	exclude := make(map[string]bool)
	cred, err := d.acquire(ctx, strategy, exclude)
	if err != nil {
		return domain.UnitOutcome{}, false, err
	}

	var lastErr string
	same, cross, attempts := 0, 0, 0
	for {
		if err := d.limiter.Wait(ctx, cred.ID); err != nil {
			return domain.UnitOutcome{}, false, err
		}
		same++
		attempts++
		sink.Transition(unit.Index, domain.UnitInFlight)

		raw, latency := d.call(ctx, cred, unit, job.Style)
		if ctx.Err() != nil {
			return domain.UnitOutcome{}, false, ctx.Err()
		}
		raw = validate(unit, raw)
		if raw.OK() {
			d.observer.CallFinished(cred.ID, domain.ClassNone, latency)
			return domain.UnitOutcome{
				Index:         unit.Index,
				Status:        domain.UnitSucceeded,
				Text:          raw.Text,
				Credential:    cred.ID,
				Attempts:      attempts,
				SameAttempts:  same,
				CrossAttempts: cross,
				LastError:     lastErr,
			}, true, nil
		}

		verdict := d.policy.Classifier.Classify(raw)
		d.observer.CallFinished(cred.ID, verdict.Class, latency)
		lastErr = verdict.Reason
		failed := func(err error) (domain.UnitOutcome, bool, error) {
			return domain.UnitOutcome{
				Index:         unit.Index,
				Status:        domain.UnitTerminalFailure,
				Class:         verdict.Class,
				Reason:        verdict.Reason,
				Credential:    cred.ID,
				Attempts:      attempts,
				SameAttempts:  same,
				CrossAttempts: cross,
				LastError:     lastErr,
			}, true, err
		}

		switch verdict.Class {
		case domain.ClassTerminal:
			log.Warn("Unit failed terminally", "credential", cred.ID, "reason", verdict.Reason)
			return failed(nil)

		case domain.ClassRateLimited:
			d.restCredential(cred.ID, verdict)

		default:
			if same < d.policy.MaxSameCredentialAttempts {
				sink.Transition(unit.Index, domain.UnitRetryableFailure)
				delay := max(d.policy.Backoff.Delay(same-1), verdict.RetryAfter)
				log.Debug("Retrying on same credential", "credential", cred.ID, "attempt", same+1, "delay", delay, "reason", verdict.Reason)
				if err := d.clock.Sleep(ctx, delay); err != nil {
					return domain.UnitOutcome{}, false, err
				}
				next, err := d.pool.Reuse(cred.ID)
				if err == nil {
					cred = next
					continue
				}
				log.Debug("Credential no longer usable for retry", "credential", cred.ID, "error", err)
			}
		}

		if !d.policy.CrossCredentialRetry || cross >= d.policy.MaxCrossCredentialAttempts {
			log.Warn("Unit retries exhausted", "credential", cred.ID, "attempts", attempts, "reason", verdict.Reason)
			return failed(nil)
		}
		sink.Transition(unit.Index, domain.UnitRetryableFailure)
		exclude[cred.ID] = true

		next, err := d.acquire(ctx, strategy, exclude)
		switch {
		case errors.Is(err, errNoAlternative):
			// A throttled credential with nothing to fail over to may be
			// waited out, within the same-credential budget.
			if verdict.Class != domain.ClassRateLimited || verdict.QuotaExhausted || same >= d.policy.MaxSameCredentialAttempts {
				log.Warn("No other credential to fail over to", "credential", cred.ID, "attempts", attempts, "reason", verdict.Reason)
				return failed(nil)
			}
			next, err = d.waitFor(ctx, cred.ID, d.policy.Backoff.Delay(same-1))
			if err != nil {
				if ctx.Err() != nil {
					return domain.UnitOutcome{}, false, ctx.Err()
				}
				log.Warn("Credential did not recover", "credential", cred.ID, "error", err)
				return failed(nil)
			}
			log.Debug("Retrying on same credential after cooldown", "credential", cred.ID, "attempt", same+1)
			cred = next
			continue
		case errors.Is(err, pool.ErrPoolExhausted):
			return failed(err)
		case err != nil:
			return domain.UnitOutcome{}, false, err
		}
		cross++
		same = 0
		log.Info("Failing over to another credential", "from", cred.ID, "to", next.ID, "reason", verdict.Reason)
		cred = next
	}
}

// restCredential takes a throttled credential out of rotation.
func (d *Dispatcher) restCredential(id string, v classify.Verdict) {
	if v.QuotaExhausted {
		if err := d.pool.MarkExhausted(id); err != nil {
			d.logger.Error("Failed to mark credential exhausted", "credential", id, "error", err)
		}
		return
	}
	cooldown := d.policy.cooldownFor(v)
	if err := d.pool.MarkCooldown(id, cooldown); err != nil {
		d.logger.Error("Failed to cool down credential", "credential", id, "error", err)
		return
	}
	d.observer.Cooldown(id, cooldown)
}

// acquire waits out cooldowns. It returns errNoAlternative when the only
// usable credentials are excluded; exclusions are never dropped.
func (d *Dispatcher) acquire(ctx context.Context, strategy pool.Strategy, exclude map[string]bool) (domain.Credential, error) {
	for {
		cred, err := d.pool.Acquire(pool.AcquireOptions{Exclude: exclude, Strategy: strategy})
		if err == nil {
			return cred, nil
		}
		var unavailable *pool.UnavailableError
		if !errors.As(err, &unavailable) {
			return domain.Credential{}, err
		}
		if unavailable.RetryAt.IsZero() {
			if len(exclude) > 0 {
				return domain.Credential{}, errNoAlternative
			}
			return domain.Credential{}, err
		}
		wait := unavailable.RetryAt.Sub(d.clock.Now())
		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := d.clock.Sleep(ctx, wait); err != nil {
			return domain.Credential{}, err
		}
	}
}

// waitFor sleeps for at least delay and until id leaves cooldown, then
// takes id again.
func (d *Dispatcher) waitFor(ctx context.Context, id string, delay time.Duration) (domain.Credential, error) {
	for {
		if c, ok := d.pool.Get(id); ok && c.State == domain.CredentialCooldown {
			delay = max(delay, c.CooldownUntil.Sub(d.clock.Now()))
		}
		if err := d.clock.Sleep(ctx, delay); err != nil {
			return domain.Credential{}, err
		}
		cred, err := d.pool.Reuse(id)
		if err == nil {
			return cred, nil
		}
		// Another unit may have cooled it down again meanwhile.
		if c, ok := d.pool.Get(id); !ok || c.State != domain.CredentialCooldown {
			return domain.Credential{}, err
		}
		delay = time.Millisecond
	}
}

func (d *Dispatcher) call(
	ctx context.Context,
	cred domain.Credential,
	unit domain.Unit,
	style domain.Style,
) (domain.RawOutcome, time.Duration) {
	callCtx := ctx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	start := d.clock.Now()
	raw := d.translator.Translate(callCtx, cred, unit, style)
	if !raw.OK() && raw.Err.Cause == nil && ctx.Err() == nil && callCtx.Err() != nil {
		raw.Err.Cause = callCtx.Err()
	}
	return raw, d.clock.Now().Sub(start)
}

// validate rejects successful calls whose text cannot be used.
func validate(unit domain.Unit, raw domain.RawOutcome) domain.RawOutcome {
	if !raw.OK() {
		return raw
	}
	if strings.TrimSpace(raw.Text) == "" && strings.TrimSpace(unit.Payload) != "" {
		return domain.Failure(&domain.ProviderError{Code: "empty_output", Message: "empty translation"})
	}
	if unit.Lines > 0 {
		got := strings.Count(strings.TrimRight(raw.Text, "\n"), "\n") + 1
		if got != unit.Lines {
			return domain.Failure(&domain.ProviderError{
				Code:    "line_count_mismatch",
				Message: fmt.Sprintf("expected %d lines, got %d", unit.Lines, got),
			})
		}
	}
	return raw
}
