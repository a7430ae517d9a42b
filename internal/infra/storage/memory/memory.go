package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/infra/storage"
)

// MemoryStorage keeps usage and jobs in process memory.
type MemoryStorage struct {
	usage   map[string]domain.CredentialUsage
	jobs    map[string]domain.JobSummary
	results map[string]*domain.Result
	mu      sync.RWMutex
}

var _ storage.Store = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		usage:   make(map[string]domain.CredentialUsage),
		jobs:    make(map[string]domain.JobSummary),
		results: make(map[string]*domain.Result),
	}
}

// -----------------------------------------------------------------------------
// Usage Repository
// -----------------------------------------------------------------------------

func (s *MemoryStorage) LoadUsage(ctx context.Context) ([]domain.CredentialUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CredentialUsage, 0, len(s.usage))
	for _, u := range s.usage {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) SaveUsage(ctx context.Context, usage []domain.CredentialUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range usage {
		s.usage[u.ID] = u
	}
	return nil
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

func (s *MemoryStorage) SaveJob(ctx context.Context, job domain.JobSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStorage) SaveResult(ctx context.Context, result *domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.JobID] = &cp

	job := s.jobs[result.JobID]
	job.ID = result.JobID
	job.Status = result.Status
	job.Condition = result.Condition
	job.Total = result.Total
	job.Succeeded = result.Succeeded
	job.Failed = len(result.Failed)
	finished := result.FinishedAt
	job.FinishedAt = &finished
	s.jobs[result.JobID] = job
	return nil
}

func (s *MemoryStorage) GetResult(ctx context.Context, jobID string) (*domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStorage) ListJobs(ctx context.Context, limit int) ([]domain.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.JobSummary, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStorage) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.results, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
