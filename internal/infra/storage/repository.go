package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a job has no stored record.
	ErrJobNotFound = errors.New("job not found")
)

// UsageRepository persists credential usage counters between restarts.
type UsageRepository interface {
	// LoadUsage returns every stored usage record
	LoadUsage(ctx context.Context) ([]domain.CredentialUsage, error)

	// SaveUsage upserts the given usage records
	SaveUsage(ctx context.Context, usage []domain.CredentialUsage) error
}

// JobRepository keeps job summaries and final results.
type JobRepository interface {
	// SaveJob upserts a job summary
	SaveJob(ctx context.Context, job domain.JobSummary) error

	// SaveResult stores the final result and updates the summary counters
	SaveResult(ctx context.Context, result *domain.Result) error

	// GetResult retrieves a stored result
	GetResult(ctx context.Context, jobID string) (*domain.Result, error)

	// ListJobs returns the most recently submitted jobs first
	ListJobs(ctx context.Context, limit int) ([]domain.JobSummary, error)

	// DeleteJobsOlderThan removes finished jobs whose finish time is before cutoff
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles both repositories behind one lifecycle.
type Store interface {
	UsageRepository
	JobRepository
	Close() error
}

// FailedIndices lists the indices of the failed units of a result.
func FailedIndices(r *domain.Result) []int64 {
	out := make([]int64, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, int64(f.Index))
	}
	return out
}
