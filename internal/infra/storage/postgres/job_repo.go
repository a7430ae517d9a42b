package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

// SaveJob upserts a job summary.
func (r *JobRepo) SaveJob(ctx context.Context, job domain.JobSummary) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO jobs (
            id, status, mode, format, target_language, total, succeeded, failed, stop_condition,
            submitted_at, finished_at
        ) VALUES (
            :id, :status, :mode, :format, :target_language, :total, :succeeded, :failed, :stop_condition,
            :submitted_at, :finished_at
        )
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            total = EXCLUDED.total,
            succeeded = EXCLUDED.succeeded,
            failed = EXCLUDED.failed,
            stop_condition = EXCLUDED.stop_condition,
            finished_at = EXCLUDED.finished_at`, job)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// SaveResult stores the final result and updates the summary counters.
func (r *JobRepo) SaveResult(ctx context.Context, result *domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, total = $2, succeeded = $3,
        failed = $4, stop_condition = $5, finished_at = $6 WHERE id = $7`,
		result.Status, result.Total, result.Succeeded, len(result.Failed), result.Condition,
		result.FinishedAt.UTC(), result.JobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save result %s: %w", result.JobID, storage.ErrJobNotFound)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO job_results (job_id, failed_indices, result)
        VALUES ($1, $2, $3)
        ON CONFLICT (job_id) DO UPDATE SET
            failed_indices = EXCLUDED.failed_indices,
            result = EXCLUDED.result`,
		result.JobID, pq.Array(storage.FailedIndices(result)), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return tx.Commit()
}

// GetResult retrieves a stored result.
func (r *JobRepo) GetResult(ctx context.Context, jobID string) (*domain.Result, error) {
	var data []byte
	err := r.db.GetContext(ctx, &data, "SELECT result FROM job_results WHERE job_id = $1", jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result domain.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

// FailedIndices returns the indices of failed units without decoding the result.
func (r *JobRepo) FailedIndices(ctx context.Context, jobID string) ([]int64, error) {
	var out []int64
	err := r.db.QueryRowxContext(ctx,
		"SELECT failed_indices FROM job_results WHERE job_id = $1", jobID,
	).Scan(pq.Array(&out))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed indices: %w", err)
	}
	return out, nil
}

// ListJobs returns the most recently submitted jobs first.
func (r *JobRepo) ListJobs(ctx context.Context, limit int) ([]domain.JobSummary, error) {
	query := `SELECT id, status, mode, format, target_language, total, succeeded, failed,
        stop_condition, submitted_at, finished_at FROM jobs ORDER BY submitted_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var jobs []domain.JobSummary
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJobsOlderThan removes finished jobs whose finish time is before cutoff.
func (r *JobRepo) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	return res.RowsAffected()
}
