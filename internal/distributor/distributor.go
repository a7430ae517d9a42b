// Package distributor spreads jobs across worker processes through a
// Redis queue. Each worker owns its own pool, limiter and dispatcher.
package distributor

import (
	"context"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/jobs"
)

// Queue is the shared job queue. *redis.Client implements it. Popped jobs
// are leased: one that is neither completed nor requeued before its lease
// runs out is handed to another worker.
type Queue interface {
	PushJob(ctx context.Context, queue, id string, spec []byte, ttl time.Duration) error
	PopJob(ctx context.Context, queue string, lease time.Duration) (id string, spec []byte, found bool, err error)
	ExtendLease(ctx context.Context, queue, id string, lease time.Duration) error
	RequeueJob(ctx context.Context, queue, id string) error
	CompleteJob(ctx context.Context, queue, id string) error
	AcquireLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, id string) error
	RefreshLock(ctx context.Context, id string, ttl time.Duration) error
	RequestCancel(ctx context.Context, id string, ttl time.Duration) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// Status reads what workers publish. *redis.StatusCache implements it.
type Status interface {
	GetProgress(ctx context.Context, jobID string) (domain.Progress, error)
	GetResult(ctx context.Context, jobID string) (domain.Result, error)
}

// Runner executes popped jobs locally. *jobs.Manager implements it.
type Runner interface {
	SubmitJob(ctx context.Context, req jobs.SubmitRequest) (domain.JobHandle, error)
	Wait(ctx context.Context, id string) (*domain.Result, error)
	Cancel(id string) error
	Reject(ctx context.Context, req jobs.SubmitRequest, cond domain.Condition) (*domain.Result, error)
}

// Config holds queue settings.
type Config struct {
	Queue        string        // queue name (default: "jobs")
	SpecTTL      time.Duration // how long a queued spec survives (default: 24h)
	LockTTL      time.Duration // worker ownership lock and queue lease (default: 60s)
	EmptySleep   time.Duration // sleep when queue empty (default: 2s)
	BusySleep    time.Duration // sleep after requeueing a job the local queue cannot take (default: 30s)
	PollInterval time.Duration // cancel flag and lease refresh interval (default: 1s)
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		Queue:        "jobs",
		SpecTTL:      24 * time.Hour,
		LockTTL:      60 * time.Second,
		EmptySleep:   2 * time.Second,
		BusySleep:    30 * time.Second,
		PollInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Queue == "" {
		c.Queue = d.Queue
	}
	if c.SpecTTL <= 0 {
		c.SpecTTL = d.SpecTTL
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.EmptySleep <= 0 {
		c.EmptySleep = d.EmptySleep
	}
	if c.BusySleep <= 0 {
		c.BusySleep = d.BusySleep
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}
