package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/infra/storage"
)

func TestMemoryStorage_Usage(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.SaveUsage(ctx, []domain.CredentialUsage{{ID: "b", UsedToday: 1}, {ID: "a", UsedToday: 2}}))
	require.NoError(t, s.SaveUsage(ctx, []domain.CredentialUsage{{ID: "b", UsedToday: 5}}))

	got, err := s.LoadUsage(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 5, got[1].UsedToday)
}

func TestMemoryStorage_Jobs(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveJob(ctx, domain.JobSummary{ID: "old", SubmittedAt: now}))
	require.NoError(t, s.SaveJob(ctx, domain.JobSummary{ID: "new", SubmittedAt: now.Add(time.Minute)}))
	require.NoError(t, s.SaveResult(ctx, &domain.Result{
		JobID: "old", Status: domain.JobComplete, Total: 1, Succeeded: 1, FinishedAt: now.Add(time.Second),
	}))

	jobs, err := s.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].ID)
	assert.Equal(t, domain.JobComplete, jobs[1].Status)

	_, err = s.GetResult(ctx, "new")
	assert.ErrorIs(t, err, storage.ErrJobNotFound)

	n, err := s.DeleteJobsOlderThan(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetResult(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrJobNotFound)
}
