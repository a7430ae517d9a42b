// Package jobs accepts translation jobs, runs them in the background and
// keeps their progress and results.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch"
	"github.com/vietddude/lingo/internal/dispatch/aggregate"
	"github.com/vietddude/lingo/internal/dispatch/chunk"
	"github.com/vietddude/lingo/internal/infra/storage"
	"github.com/vietddude/lingo/internal/metrics"
)

// Runner dispatches the units of one job.
type Runner interface {
	Run(ctx context.Context, job domain.Job, sink dispatch.Sink) error
}

// PoolStatus reports whether any credential can take work.
type PoolStatus interface {
	Usable() int
}

// StatusCache mirrors progress and results for other processes.
type StatusCache interface {
	SetProgress(ctx context.Context, p domain.Progress) error
	SetResult(ctx context.Context, r domain.Result) error
}

// Config holds job runner settings.
type Config struct {
	MaxConcurrent  int
	InterJobDelay  time.Duration
	QueueSize      int
	DefaultMode    domain.DispatchMode
	Chunking       chunk.Config
	SubtitleBatch  int
	ContextOverlap int
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		QueueSize:     100,
		DefaultMode:   domain.ModeParallel,
		Chunking:      chunk.DefaultConfig(),
		SubtitleBatch: 40,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithRepository persists job summaries and results.
func WithRepository(repo storage.JobRepository) Option {
	return func(m *Manager) { m.repo = repo }
}

// WithStatusCache mirrors progress and results.
func WithStatusCache(c StatusCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager is safe for concurrent use.
type Manager struct {
	runner  Runner
	pool    PoolStatus
	chunker *chunk.Chunker
	cfg     Config
	repo    storage.JobRepository
	cache   StatusCache
	clock   clock.Clock
	log     *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*entry
	queue   chan *entry
	running bool
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// entry is the live state of one job.
type entry struct {
	job  domain.Job
	plan plan
	agg  *aggregate.Aggregator
	done chan struct{}

	mu        sync.Mutex
	status    domain.JobStatus
	cancel    context.CancelFunc
	cancelled bool
	result    *domain.Result
}

// NewManager creates a manager. Call Start before submitting.
func NewManager(runner Runner, pool PoolStatus, cfg Config, opts ...Option) *Manager {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = domain.ModeParallel
	}
	m := &Manager{
		runner:  runner,
		pool:    pool,
		chunker: chunk.New(cfg.Chunking),
		cfg:     cfg,
		clock:   clock.Real{},
		log:     slog.Default().With("component", "jobs"),
		jobs:    make(map[string]*entry),
		queue:   make(chan *entry, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the job workers.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, m.stop = context.WithCancel(ctx)
	m.running = true

	for i := 0; i < m.cfg.MaxConcurrent; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.log.Info("Job manager started", "workers", m.cfg.MaxConcurrent, "queue_size", m.cfg.QueueSize)
}

// Stop cancels running jobs and waits for the workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop := m.stop
	m.mu.Unlock()

	stop()
	m.wg.Wait()
	m.log.Info("Job manager stopped")
}

// SubmitJob validates, chunks and queues a job. It fails fast with
// ErrPoolExhausted when no credential is usable.
func (m *Manager) SubmitJob(ctx context.Context, req SubmitRequest) (domain.JobHandle, error) {
	if err := req.Validate(); err != nil {
		return domain.JobHandle{}, err
	}
	if m.pool.Usable() == 0 {
		return domain.JobHandle{}, ErrPoolExhausted
	}

	p, err := m.buildPlan(req)
	if err != nil {
		return domain.JobHandle{}, err
	}

	mode := req.Mode
	if mode == "" {
		mode = m.cfg.DefaultMode
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	job := domain.Job{
		ID:          id,
		Format:      p.format,
		Mode:        mode,
		Style:       req.Style,
		Units:       p.units,
		Status:      domain.JobPending,
		SubmittedAt: m.clock.Now(),
	}
	e := &entry{
		job:    job,
		plan:   p,
		agg:    aggregate.New(p.units),
		done:   make(chan struct{}),
		status: domain.JobPending,
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return domain.JobHandle{}, ErrNotRunning
	}
	if _, dup := m.jobs[job.ID]; dup {
		m.mu.Unlock()
		return domain.JobHandle{}, fmt.Errorf("%w: job %s already exists", ErrInvalidRequest, job.ID)
	}
	select {
	case m.queue <- e:
		m.jobs[job.ID] = e
	default:
		m.mu.Unlock()
		return domain.JobHandle{}, ErrQueueFull
	}
	m.mu.Unlock()

	m.persistSummary(ctx, e)
	m.publishProgress(ctx, e)
	m.log.Info("Job submitted",
		"job_id", job.ID,
		"mode", job.Mode,
		"format", job.Format,
		"units", len(job.Units),
		"target", job.Style.TargetLanguage,
	)

	return domain.JobHandle{ID: job.ID, Units: len(job.Units), Status: domain.JobPending}, nil
}

// Reject finishes a job that cannot run here with every unit not
// attempted, and persists and publishes the result under cond.
func (m *Manager) Reject(ctx context.Context, req SubmitRequest, cond domain.Condition) (*domain.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := m.buildPlan(req)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := m.clock.Now()
	res := aggregate.New(p.units).Result(req.ID, cond, now)

	metrics.JobFinished(res.Status)
	m.log.Warn("Job rejected", "job_id", res.JobID, "condition", cond, "units", res.Total)

	if m.repo != nil {
		mode := req.Mode
		if mode == "" {
			mode = m.cfg.DefaultMode
		}
		summary := domain.JobSummary{
			ID:             res.JobID,
			Status:         res.Status,
			Mode:           mode,
			Format:         p.format,
			TargetLanguage: req.Style.TargetLanguage,
			Total:          res.Total,
			Condition:      cond,
			SubmittedAt:    now,
			FinishedAt:     &now,
		}
		if err := m.repo.SaveJob(ctx, summary); err != nil {
			m.log.Error("Failed to persist job", "job_id", res.JobID, "error", err)
		} else if err := m.repo.SaveResult(ctx, &res); err != nil {
			m.log.Error("Failed to persist result", "job_id", res.JobID, "error", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.SetResult(ctx, res); err != nil {
			m.log.Warn("Failed to cache result", "job_id", res.JobID, "error", err)
		}
		if err := m.cache.SetProgress(ctx, progressOf(&res)); err != nil {
			m.log.Warn("Failed to cache progress", "job_id", res.JobID, "error", err)
		}
	}
	return &res, nil
}

// Cancel stops a job. Queued jobs end immediately with every unit not
// attempted; running jobs stop dispatching and keep what already settled.
func (m *Manager) Cancel(id string) error {
	e, ok := m.lookup(id)
	if !ok {
		return ErrJobNotFound
	}

	e.mu.Lock()
	if e.status.Terminal() {
		e.mu.Unlock()
		return ErrJobFinished
	}
	e.cancelled = true
	cancel := e.cancel
	queued := e.status == domain.JobPending
	e.mu.Unlock()

	m.log.Info("Job cancel requested", "job_id", id)
	if cancel != nil {
		cancel()
	}
	if queued {
		m.finish(context.Background(), e, domain.ConditionCancelled)
	}
	return nil
}

// GetProgress returns the settled unit counts of a job.
func (m *Manager) GetProgress(ctx context.Context, id string) (domain.Progress, error) {
	if e, ok := m.lookup(id); ok {
		return e.progress(), nil
	}
	if m.repo != nil {
		if res, err := m.repo.GetResult(ctx, id); err == nil {
			return progressOf(res), nil
		}
	}
	return domain.Progress{}, ErrJobNotFound
}

// GetResult returns the final result of a finished job.
func (m *Manager) GetResult(ctx context.Context, id string) (*domain.Result, error) {
	if e, ok := m.lookup(id); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.result == nil {
			return nil, ErrJobNotFinished
		}
		res := *e.result
		return &res, nil
	}
	if m.repo != nil {
		res, err := m.repo.GetResult(ctx, id)
		if errors.Is(err, storage.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return res, err
	}
	return nil, ErrJobNotFound
}

// Wait blocks until the job finishes or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (*domain.Result, error) {
	e, ok := m.lookup(id)
	if !ok {
		return m.GetResult(ctx, id)
	}
	select {
	case <-e.done:
		return m.GetResult(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List returns job summaries, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]domain.JobSummary, error) {
	if m.repo != nil {
		return m.repo.ListJobs(ctx, limit)
	}

	m.mu.RLock()
	out := make([]domain.JobSummary, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.summary())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune forgets finished jobs that ended before now-olderThan.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := m.clock.Now().Add(-olderThan)

	var n int64
	m.mu.Lock()
	for id, e := range m.jobs {
		e.mu.Lock()
		if e.result != nil && e.result.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
		e.mu.Unlock()
	}
	m.mu.Unlock()

	if m.repo != nil {
		deleted, err := m.repo.DeleteJobsOlderThan(ctx, cutoff)
		if err != nil {
			return n, fmt.Errorf("prune stored jobs: %w", err)
		}
		n = max(n, deleted)
	}
	return n, nil
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	return e, ok
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	log := m.log.With("worker", n)

	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case e := <-m.queue:
			if m.run(ctx, e) && m.cfg.InterJobDelay > 0 {
				if err := m.clock.Sleep(ctx, m.cfg.InterJobDelay); err != nil {
					log.Debug("Inter-job delay interrupted", "error", err)
				}
			}
		}
	}
}

// drain cancels jobs that were still queued at shutdown.
func (m *Manager) drain() {
	for {
		select {
		case e := <-m.queue:
			m.finish(context.Background(), e, domain.ConditionCancelled)
		default:
			return
		}
	}
}

// run reports whether the job was dispatched.
func (m *Manager) run(ctx context.Context, e *entry) bool {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.cancelled || e.status.Terminal() {
		e.mu.Unlock()
		return false
	}
	e.status = domain.JobDispatching
	e.job.Status = domain.JobDispatching
	e.job.StartedAt = m.clock.Now()
	e.cancel = cancel
	job := e.job
	e.mu.Unlock()

	m.persistSummary(ctx, e)
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	err := m.runner.Run(jobCtx, job, &sink{m: m, e: e})
	cond := dispatch.ConditionOf(err)
	if err != nil && cond == domain.ConditionNone {
		m.log.Error("Job run failed", "job_id", job.ID, "error", err)
	}
	if cond == domain.ConditionNone && ctx.Err() != nil {
		cond = domain.ConditionCancelled
	}

	m.finish(context.WithoutCancel(ctx), e, cond)
	return true
}

// finish builds the result once and wakes waiters.
func (m *Manager) finish(ctx context.Context, e *entry, cond domain.Condition) {
	e.mu.Lock()
	if e.result != nil {
		e.mu.Unlock()
		return
	}
	now := m.clock.Now()
	res := e.agg.Result(e.job.ID, cond, now)
	if err := render(e.plan, e.job.Units, &res); err != nil {
		m.log.Error("Failed to render output", "job_id", e.job.ID, "error", err)
	}
	e.result = &res
	e.status = res.Status
	e.job.Status = res.Status
	e.job.FinishedAt = now
	e.mu.Unlock()
	close(e.done)

	metrics.JobFinished(res.Status)
	m.log.Info("Job finished",
		"job_id", res.JobID,
		"status", res.Status,
		"condition", res.Condition,
		"succeeded", res.Succeeded,
		"failed", len(res.Failed),
		"not_attempted", len(res.NotAttempted),
	)

	if m.repo != nil {
		if err := m.repo.SaveResult(ctx, &res); err != nil {
			m.log.Error("Failed to persist result", "job_id", res.JobID, "error", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.SetResult(ctx, res); err != nil {
			m.log.Warn("Failed to cache result", "job_id", res.JobID, "error", err)
		}
	}
	m.publishProgress(ctx, e)
}

func (m *Manager) persistSummary(ctx context.Context, e *entry) {
	if m.repo == nil {
		return
	}
	if err := m.repo.SaveJob(ctx, e.summary()); err != nil {
		m.log.Error("Failed to persist job", "job_id", e.job.ID, "error", err)
	}
}

func (m *Manager) publishProgress(ctx context.Context, e *entry) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetProgress(ctx, e.progress()); err != nil {
		m.log.Warn("Failed to cache progress", "job_id", e.job.ID, "error", err)
	}
}

func (e *entry) progress() domain.Progress {
	p := e.agg.Progress()
	p.JobID = e.job.ID
	e.mu.Lock()
	p.Status = e.status
	e.mu.Unlock()
	return p
}

func (e *entry) summary() domain.JobSummary {
	p := e.agg.Progress()
	e.mu.Lock()
	defer e.mu.Unlock()
	s := domain.JobSummary{
		ID:             e.job.ID,
		Status:         e.status,
		Mode:           e.job.Mode,
		Format:         e.job.Format,
		TargetLanguage: e.job.Style.TargetLanguage,
		Total:          p.Total,
		Succeeded:      p.Succeeded,
		Failed:         p.Failed,
		SubmittedAt:    e.job.SubmittedAt,
	}
	if e.result != nil {
		s.Condition = e.result.Condition
		finished := e.result.FinishedAt
		s.FinishedAt = &finished
	}
	return s
}

func progressOf(r *domain.Result) domain.Progress {
	return domain.Progress{
		JobID:     r.JobID,
		Status:    r.Status,
		Completed: r.Succeeded + len(r.Failed),
		Total:     r.Total,
		Succeeded: r.Succeeded,
		Failed:    len(r.Failed),
	}
}

// sink feeds dispatcher outcomes into the job's aggregator.
type sink struct {
	m *Manager
	e *entry
}

func (s *sink) Transition(index int, status domain.UnitStatus) {
	s.e.agg.Transition(index, status)
}

func (s *sink) Record(o domain.UnitOutcome) error {
	if err := s.e.agg.Record(o); err != nil {
		return err
	}
	s.m.publishProgress(context.Background(), s.e)
	return nil
}
