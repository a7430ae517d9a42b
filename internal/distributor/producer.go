package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/lingo/internal/core/domain"
	redisclient "github.com/vietddude/lingo/internal/infra/redis"
	"github.com/vietddude/lingo/internal/jobs"
)

// Producer submits jobs to the shared queue and reads their status.
type Producer struct {
	cfg    Config
	queue  Queue
	status Status
}

// NewProducer creates a producer.
func NewProducer(cfg Config, queue Queue, status Status) *Producer {
	return &Producer{cfg: cfg.withDefaults(), queue: queue, status: status}
}

// Queue returns the name of the queue jobs are pushed to.
func (p *Producer) Queue() string { return p.cfg.Queue }

// Enqueue validates req, assigns it an ID and queues it.
func (p *Producer) Enqueue(ctx context.Context, req jobs.SubmitRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	spec, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode job spec: %w", err)
	}
	if err := p.queue.PushJob(ctx, p.cfg.Queue, req.ID, spec, p.cfg.SpecTTL); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", req.ID, err)
	}
	return req.ID, nil
}

// Progress returns the last progress a worker published.
func (p *Producer) Progress(ctx context.Context, id string) (domain.Progress, error) {
	prog, err := p.status.GetProgress(ctx, id)
	if errors.Is(err, redisclient.ErrNotFound) {
		return domain.Progress{}, jobs.ErrJobNotFound
	}
	return prog, err
}

// Result returns the stored result. It reports ErrJobNotFinished while
// progress exists without a result.
func (p *Producer) Result(ctx context.Context, id string) (*domain.Result, error) {
	res, err := p.status.GetResult(ctx, id)
	if err == nil {
		return &res, nil
	}
	if !errors.Is(err, redisclient.ErrNotFound) {
		return nil, err
	}
	if _, perr := p.status.GetProgress(ctx, id); perr == nil {
		return nil, jobs.ErrJobNotFinished
	}
	return nil, jobs.ErrJobNotFound
}

// Cancel flags the job; the owning worker stops it on its next poll.
func (p *Producer) Cancel(ctx context.Context, id string) error {
	return p.queue.RequestCancel(ctx, id, p.cfg.SpecTTL)
}
