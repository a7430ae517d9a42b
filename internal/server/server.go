// Package server exposes job submission and credential administration over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/jobs"
)

// JobService is the job submission interface.
type JobService interface {
	SubmitJob(ctx context.Context, req jobs.SubmitRequest) (domain.JobHandle, error)
	Cancel(id string) error
	GetProgress(ctx context.Context, id string) (domain.Progress, error)
	GetResult(ctx context.Context, id string) (*domain.Result, error)
	List(ctx context.Context, limit int) ([]domain.JobSummary, error)
}

// CredentialAdmin manages the credential pool.
type CredentialAdmin interface {
	Register(d domain.CredentialDescriptor) error
	Disable(id string) error
	Enable(id string) error
	Stats() []domain.CredentialStats
}

// Config holds HTTP settings.
type Config struct {
	Port         int
	AdminKeyHash string
	SubmitRPS    float64
	SubmitBurst  int
}

// Deps are the services behind the routes. Health handlers are optional.
type Deps struct {
	Jobs           JobService
	Credentials    CredentialAdmin
	Health         http.HandlerFunc
	HealthDetailed http.HandlerFunc
}

// Server serves the API, health checks and metrics.
type Server struct {
	deps    Deps
	server  *http.Server
	handler http.Handler
	log     *slog.Logger
}

// New creates a server. It does not listen until Start.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  slog.Default().With("component", "server"),
	}

	var limiter *rate.Limiter
	if cfg.SubmitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRPS), max(cfg.SubmitBurst, 1))
	}
	s.handler = s.routes(limiter, []byte(cfg.AdminKeyHash))
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start blocks serving HTTP until Stop.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes(limiter *rate.Limiter, adminHash []byte) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(recovery(s.log))

	if s.deps.Health != nil {
		r.Get("/health", s.deps.Health)
	}
	if s.deps.HealthDetailed != nil {
		r.Get("/health/detailed", s.deps.HealthDetailed)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.With(submitLimit(limiter)).Post("/", s.handleSubmit)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleProgress)
			r.Get("/{id}/result", s.handleResult)
			r.Delete("/{id}", s.handleCancel)
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Use(adminOnly(adminHash))
			r.Get("/", s.handleListCredentials)
			r.Post("/", s.handleRegisterCredential)
			r.Post("/{id}/disable", s.handleDisableCredential)
			r.Post("/{id}/enable", s.handleEnableCredential)
		})
	})
	return r
}
