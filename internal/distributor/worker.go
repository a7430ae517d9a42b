package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/jobs"
)

// Worker pops jobs from the shared queue and runs them locally.
type Worker struct {
	cfg    Config
	queue  Queue
	runner Runner
	clock  clock.Clock
	owner  string
	log    *slog.Logger
}

// NewWorker creates a worker. clk may be nil.
func NewWorker(cfg Config, queue Queue, runner Runner, clk clock.Clock) *Worker {
	if clk == nil {
		clk = clock.Real{}
	}
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	return &Worker{
		cfg:    cfg.withDefaults(),
		queue:  queue,
		runner: runner,
		clock:  clk,
		owner:  owner,
		log:    slog.Default().With("component", "distributor", "owner", owner),
	}
}

// Run starts the worker loop. It returns when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting distributed worker", "queue", w.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Distributed worker stopped")
			return nil
		default:
		}

		id, spec, found, err := w.queue.PopJob(ctx, w.cfg.Queue, w.cfg.LockTTL)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("Failed to pop job", "error", err)
			_ = w.clock.Sleep(ctx, w.cfg.EmptySleep)
			continue
		}
		if !found {
			_ = w.clock.Sleep(ctx, w.cfg.EmptySleep)
			continue
		}

		if err := w.process(ctx, id, spec); err != nil {
			w.log.Error("Failed to process job", "job_id", id, "error", err)
		}
	}
}

// process runs one popped job under a lease.
func (w *Worker) process(ctx context.Context, id string, spec []byte) error {
	locked, err := w.queue.AcquireLock(ctx, id, w.owner, w.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		// The owner keeps extending the lease; the entry stays in flight.
		w.log.Debug("Job owned by another worker", "job_id", id)
		return nil
	}
	defer func() {
		if err := w.queue.ReleaseLock(context.WithoutCancel(ctx), id); err != nil {
			w.log.Warn("Failed to release lock", "job_id", id, "error", err)
		}
	}()

	if cancelled, err := w.queue.CancelRequested(ctx, id); err == nil && cancelled {
		w.log.Info("Dropping job cancelled while queued", "job_id", id)
		return w.queue.CompleteJob(ctx, w.cfg.Queue, id)
	}

	var req jobs.SubmitRequest
	if err := json.Unmarshal(spec, &req); err != nil {
		_ = w.queue.CompleteJob(ctx, w.cfg.Queue, id)
		return fmt.Errorf("decode job spec: %w", err)
	}
	req.ID = id

	handle, err := w.runner.SubmitJob(ctx, req)
	switch {
	case errors.Is(err, jobs.ErrPoolExhausted):
		res, rejErr := w.runner.Reject(ctx, req, domain.ConditionPoolExhausted)
		if rejErr != nil {
			_ = w.queue.CompleteJob(ctx, w.cfg.Queue, id)
			return fmt.Errorf("reject job: %w", rejErr)
		}
		w.log.Warn("Credential pool exhausted, job failed", "job_id", id, "not_attempted", len(res.NotAttempted))
		return w.queue.CompleteJob(ctx, w.cfg.Queue, id)
	case errors.Is(err, jobs.ErrQueueFull):
		w.log.Warn("Local queue full, requeueing", "job_id", id)
		if rqErr := w.queue.RequeueJob(ctx, w.cfg.Queue, id); rqErr != nil {
			return fmt.Errorf("requeue job: %w", rqErr)
		}
		_ = w.clock.Sleep(ctx, w.cfg.BusySleep)
		return nil
	case err != nil:
		_ = w.queue.CompleteJob(ctx, w.cfg.Queue, id)
		return fmt.Errorf("submit job: %w", err)
	}

	w.log.Info("Processing job", "job_id", id, "units", handle.Units)
	res, err := w.await(ctx, id)
	if err != nil {
		return err
	}
	w.log.Info("Job completed", "job_id", id, "status", res.Status, "succeeded", res.Succeeded, "total", res.Total)
	return w.queue.CompleteJob(context.WithoutCancel(ctx), w.cfg.Queue, id)
}

// await waits for the local job while keeping the lease alive and
// honouring remote cancel requests. On shutdown the manager cancels the
// job itself, so waiting continues until it settles.
func (w *Worker) await(ctx context.Context, id string) (*domain.Result, error) {
	type waited struct {
		res *domain.Result
		err error
	}
	bg := context.WithoutCancel(ctx)
	done := make(chan waited, 1)
	go func() {
		res, err := w.runner.Wait(bg, id)
		done <- waited{res: res, err: err}
	}()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	cancelSent := false

	for {
		select {
		case r := <-done:
			if r.err != nil {
				return nil, fmt.Errorf("wait for job: %w", r.err)
			}
			return r.res, nil
		case <-ticker.C:
		}

		if err := w.queue.RefreshLock(bg, id, w.cfg.LockTTL); err != nil {
			w.log.Warn("Failed to refresh lock", "job_id", id, "error", err)
		}
		if err := w.queue.ExtendLease(bg, w.cfg.Queue, id, w.cfg.LockTTL); err != nil {
			w.log.Warn("Failed to extend lease", "job_id", id, "error", err)
		}
		if cancelSent {
			continue
		}
		if requested, err := w.queue.CancelRequested(bg, id); err == nil && requested {
			w.log.Info("Remote cancel requested", "job_id", id)
			if err := w.runner.Cancel(id); err != nil && !errors.Is(err, jobs.ErrJobFinished) {
				w.log.Warn("Failed to cancel job", "job_id", id, "error", err)
			}
			cancelSent = true
		}
	}
}
