// Package control wires the service together and owns its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/config"
	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/core/worker"
	"github.com/vietddude/lingo/internal/dispatch"
	"github.com/vietddude/lingo/internal/dispatch/chunk"
	"github.com/vietddude/lingo/internal/dispatch/pool"
	"github.com/vietddude/lingo/internal/dispatch/ratelimit"
	"github.com/vietddude/lingo/internal/distributor"
	"github.com/vietddude/lingo/internal/health"
	"github.com/vietddude/lingo/internal/infra/provider"
	redisclient "github.com/vietddude/lingo/internal/infra/redis"
	"github.com/vietddude/lingo/internal/infra/storage"
	"github.com/vietddude/lingo/internal/infra/storage/memory"
	"github.com/vietddude/lingo/internal/infra/storage/postgres"
	"github.com/vietddude/lingo/internal/infra/storage/sqlite"
	"github.com/vietddude/lingo/internal/jobs"
	"github.com/vietddude/lingo/internal/metrics"
	"github.com/vietddude/lingo/internal/server"
)

// Options adjust wiring for callers other than the server.
type Options struct {
	// Translator replaces the configured providers, e.g. a mock for dry runs.
	Translator dispatch.Translator
	// DisableHTTP skips the API server.
	DisableHTTP bool
	// DisableWorkers skips the distributed workers even when enabled in config.
	DisableWorkers bool
	Clock          clock.Clock
}

// App is the assembled service.
type App struct {
	cfg *config.AppConfig

	Pool       *pool.Pool
	Limiter    *ratelimit.Limiter
	Dispatcher *dispatch.Dispatcher
	Jobs       *jobs.Manager
	Health     *health.Monitor
	Producer   *distributor.Producer

	usage   pool.StateStore
	server  *server.Server
	workers []*distributor.Worker
	pruner  *worker.Pruner
	saver   *worker.StateSaver
	pg      *postgres.Store
	closers []func() error

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// New builds every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	a := &App{cfg: cfg, log: slog.Default().With("component", "app")}

	// 1. Storage
	var repo storage.JobRepository
	var redis *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redis, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.closers = append(a.closers, redis.Close)
	}

	switch cfg.State.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.State.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open sqlite state: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.usage, repo = store, store
		a.log.Info("Using SQLite storage", "path", store.Path())
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.pg = store
		a.usage, repo = store, store
		a.log.Info("Using PostgreSQL storage")
	case "redis":
		if redis == nil {
			a.Close()
			return nil, errors.New("state driver redis requires redis.url")
		}
		mem := memory.NewMemoryStorage()
		a.usage, repo = redisclient.NewUsageStore(redis), mem
		a.log.Info("Using Redis credential state with in-memory job history")
	default:
		mem := memory.NewMemoryStorage()
		a.usage, repo = mem, mem
		a.log.Info("Using Memory storage")
	}

	// 2. Pool and limiter
	a.Limiter = ratelimit.New(ratelimit.WithClock(opts.Clock), ratelimit.WithObserver(metrics.ObserveWait))
	a.Pool = pool.New(
		pool.WithClock(opts.Clock),
		pool.WithLocation(cfg.ResetLocation()),
		pool.WithWindow(a.Limiter),
	)
	admin := NewCredentialAdmin(a.Pool, a.Limiter)
	for _, d := range cfg.Credentials {
		if err := admin.Register(d); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to register credential %s: %w", d.ID, err)
		}
	}
	if err := a.Pool.LoadState(ctx, a.usage); err != nil {
		a.log.Warn("Failed to restore credential usage", "error", err)
	}

	// 3. Providers and dispatcher
	translator := opts.Translator
	var router *provider.Router
	if translator == nil {
		var err error
		router, err = provider.NewRouterFromConfig(cfg.Providers)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init providers: %w", err)
		}
		translator = router
	}
	a.Dispatcher = dispatch.New(a.Pool, a.Limiter, translator, PolicyFromConfig(cfg),
		dispatch.WithClock(opts.Clock),
		dispatch.WithObserver(metrics.DispatchObserver{}),
		dispatch.WithConfig(dispatch.Config{
			Concurrency:    cfg.Dispatch.Concurrency,
			InterUnitDelay: cfg.Dispatch.InterUnitDelay,
			CallTimeout:    cfg.Dispatch.CallTimeout,
			JobTimeout:     cfg.Dispatch.JobTimeout,
		}),
	)

	// 4. Jobs
	jobOpts := []jobs.Option{jobs.WithRepository(repo), jobs.WithClock(opts.Clock)}
	var status *redisclient.StatusCache
	if redis != nil {
		status = redisclient.NewStatusCache(redis, cfg.Worker.ResultTTL)
		jobOpts = append(jobOpts, jobs.WithStatusCache(status))
	}
	a.Jobs = jobs.NewManager(a.Dispatcher, a.Pool, JobsConfigFrom(cfg), jobOpts...)

	// 5. Health, HTTP, workers, periodic loops
	var providers health.ProviderSource
	if router != nil {
		providers = router
	}
	a.Health = health.NewMonitor(a.Pool, providers, opts.Clock)

	if !opts.DisableHTTP {
		a.server = server.New(server.Config{
			Port:         cfg.Server.Port,
			AdminKeyHash: cfg.Server.AdminKeyHash,
			SubmitRPS:    cfg.Server.SubmitRPS,
			SubmitBurst:  cfg.Server.SubmitBurst,
		}, server.Deps{
			Jobs:           a.Jobs,
			Credentials:    admin,
			Health:         a.Health.HandleHealth,
			HealthDetailed: a.Health.HandleDetailed,
		})
	}

	if redis != nil {
		qcfg := distributor.Config{
			Queue:      cfg.Worker.Queue,
			SpecTTL:    cfg.Worker.ResultTTL,
			EmptySleep: cfg.Worker.EmptySleep,
		}
		a.Producer = distributor.NewProducer(qcfg, redis, status)
		a.Health.WatchQueue(redis, a.Producer.Queue())
		if cfg.Worker.Enabled && !opts.DisableWorkers {
			for range cfg.Worker.Count {
				a.workers = append(a.workers, distributor.NewWorker(qcfg, redis, a.Jobs, opts.Clock))
			}
		}
	}

	a.pruner = worker.NewPruner(cfg.Jobs.Retention, a.Jobs)
	a.saver = worker.NewStateSaver(cfg.State.SaveInterval, a.Pool, a.usage, metrics.RecordUsage)
	return a, nil
}

// Start launches background components. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.Jobs.Start(ctx)
	metrics.RecordUsage(a.Pool.Stats())

	if a.server != nil {
		a.goRun(func() {
			if err := a.server.Start(); err != nil {
				a.log.Error("HTTP server failed", "error", err)
			}
		})
	}
	if a.pg != nil {
		a.pg.DB().StartMetricsCollector(ctx)
	}
	for i, w := range a.workers {
		a.log.Info("Starting distributed worker", "index", i)
		a.goRun(func() {
			if err := w.Run(ctx); err != nil {
				a.log.Error("Distributed worker failed", "index", i, "error", err)
			}
		})
	}
	a.goRun(func() { a.pruner.Start(ctx) })
	a.goRun(func() { a.saver.Start(ctx) })

	a.log.Info("Service started",
		"credentials", a.Pool.Len(),
		"usable", a.Pool.Usable(),
		"state", a.cfg.State.Driver,
		"workers", len(a.workers),
	)
	return nil
}

// Stop shuts everything down and persists credential usage.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping service...")

	var errs []error
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.Jobs.Stop()
	a.wg.Wait()

	if err := a.Pool.SaveState(ctx, a.usage); err != nil {
		errs = append(errs, fmt.Errorf("save credential usage: %w", err))
	}
	a.Close()
	a.log.Info("Service stopped")
	return errors.Join(errs...)
}

// Close releases storage connections. Stop calls it.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

// ResetUsage zeroes daily counters and persists the result.
func (a *App) ResetUsage(ctx context.Context) error {
	a.Pool.ResetDaily()
	return a.Pool.SaveState(ctx, a.usage)
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// PolicyFromConfig maps the retry section onto a dispatch policy.
func PolicyFromConfig(cfg *config.AppConfig) dispatch.Policy {
	p := dispatch.DefaultPolicy()
	p.MaxSameCredentialAttempts = cfg.Retry.MaxSameCredentialAttempts
	p.MaxCrossCredentialAttempts = cfg.Retry.MaxCrossCredentialAttempts
	if cfg.Retry.CrossCredential != nil {
		p.CrossCredentialRetry = *cfg.Retry.CrossCredential
	}
	p.Backoff = dispatch.Backoff{
		Initial:    cfg.Retry.InitialBackoff,
		Max:        cfg.Retry.MaxBackoff,
		Multiplier: cfg.Retry.Multiplier,
	}
	p.Cooldown = cfg.Retry.Cooldown
	return p
}

// JobsConfigFrom maps the jobs and chunking sections onto the job runner.
func JobsConfigFrom(cfg *config.AppConfig) jobs.Config {
	return jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		InterJobDelay: cfg.Jobs.InterJobDelay,
		QueueSize:     cfg.Jobs.QueueSize,
		DefaultMode:   cfg.Dispatch.Mode,
		Chunking: chunk.Config{
			DirectSendThreshold: cfg.Chunking.DirectSendThreshold,
			MaxSize:             cfg.Chunking.MaxSize,
			LookBack:            cfg.Chunking.LookBack,
		},
		SubtitleBatch:  cfg.Chunking.SubtitleBatch,
		ContextOverlap: cfg.Chunking.ContextOverlap,
	}
}

// CredentialAdmin registers credentials with both the pool and the limiter.
type CredentialAdmin struct {
	pool    *pool.Pool
	limiter *ratelimit.Limiter
}

// NewCredentialAdmin creates the admin facade used by the API.
func NewCredentialAdmin(p *pool.Pool, l *ratelimit.Limiter) *CredentialAdmin {
	return &CredentialAdmin{pool: p, limiter: l}
}

func (c *CredentialAdmin) Register(d domain.CredentialDescriptor) error {
	if err := c.pool.Register(d); err != nil {
		return err
	}
	c.limiter.SetLimit(d.ID, d.RPM)
	return nil
}

func (c *CredentialAdmin) Disable(id string) error { return c.pool.Disable(id) }

func (c *CredentialAdmin) Enable(id string) error { return c.pool.Enable(id) }

func (c *CredentialAdmin) Stats() []domain.CredentialStats { return c.pool.Stats() }

// shutdownTimeout bounds Stop when called from a signal handler.
const shutdownTimeout = 30 * time.Second

// Run starts the app and blocks until ctx is done, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Stop(stopCtx)
}
