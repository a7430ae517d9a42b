// Package worker holds the periodic background loops of the service.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// JobPruner forgets finished jobs. *jobs.Manager implements it.
type JobPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Pruner deletes finished jobs based on retention policy.
type Pruner struct {
	retention time.Duration
	jobs      JobPruner
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, jobs JobPruner) *Pruner {
	return &Pruner{
		retention: retention,
		jobs:      jobs,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Interval is how often the pruner runs: a tenth of the retention,
// between one minute and one hour.
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass.
func (p *Pruner) Prune(ctx context.Context) {
	n, err := p.jobs.Prune(ctx, p.retention)
	if err != nil {
		p.log.Error("Failed to prune jobs", "error", err)
		return
	}
	if n > 0 {
		p.log.Info("Pruned finished jobs", "count", n, "retention", p.retention)
	}
}
