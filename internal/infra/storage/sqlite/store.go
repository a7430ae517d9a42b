package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/infra/storage"
)

// ErrLocked is returned when another process holds the state file.
var ErrLocked = errors.New("state database is locked by another process")

// Store persists usage and jobs in a local SQLite file.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens the database at path and applies migrations. The
// file is guarded by an exclusive lock next to it for the lifetime of the Store.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure state dir: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path, lock: lock}
	if err := s.applyMigrations(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database and releases the file lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

func (s *Store) LoadUsage(ctx context.Context) ([]domain.CredentialUsage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, used_today, used_total, disabled, exhausted,
        cooldown_until, last_used_at, reset_at FROM credential_usage ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []domain.CredentialUsage
	for rows.Next() {
		var (
			u                          domain.CredentialUsage
			cooldown, lastUsed, reset sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.UsedToday, &u.UsedTotal, &u.Disabled, &u.Exhausted,
			&cooldown, &lastUsed, &reset); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		u.CooldownUntil = parseTime(cooldown)
		u.LastUsedAt = parseTime(lastUsed)
		u.ResetAt = parseTime(reset)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SaveUsage(ctx context.Context, usage []domain.CredentialUsage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, u := range usage {
		_, err := tx.ExecContext(ctx, `INSERT INTO credential_usage (
            id, used_today, used_total, disabled, exhausted, cooldown_until, last_used_at, reset_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            used_today = excluded.used_today,
            used_total = excluded.used_total,
            disabled = excluded.disabled,
            exhausted = excluded.exhausted,
            cooldown_until = excluded.cooldown_until,
            last_used_at = excluded.last_used_at,
            reset_at = excluded.reset_at`,
			u.ID, u.UsedToday, u.UsedTotal, u.Disabled, u.Exhausted,
			formatTime(u.CooldownUntil), formatTime(u.LastUsedAt), formatTime(u.ResetAt),
		)
		if err != nil {
			return fmt.Errorf("upsert usage %s: %w", u.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}
	return nil
}

func (s *Store) SaveJob(ctx context.Context, job domain.JobSummary) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (
            id, status, mode, format, target_language, total, succeeded, failed, stop_condition,
            submitted_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            total = excluded.total,
            succeeded = excluded.succeeded,
            failed = excluded.failed,
            stop_condition = excluded.stop_condition,
            finished_at = excluded.finished_at`,
		job.ID, job.Status, job.Mode, job.Format, job.TargetLanguage,
		job.Total, job.Succeeded, job.Failed, job.Condition,
		formatTime(job.SubmittedAt), formatTimePtr(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *Store) SaveResult(ctx context.Context, result *domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin result tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, total = ?, succeeded = ?,
        failed = ?, stop_condition = ?, finished_at = ? WHERE id = ?`,
		result.Status, result.Total, result.Succeeded, len(result.Failed), result.Condition,
		formatTime(result.FinishedAt), result.JobID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save result %s: %w", result.JobID, storage.ErrJobNotFound)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO job_results (job_id, result_json) VALUES (?, ?)
        ON CONFLICT(job_id) DO UPDATE SET result_json = excluded.result_json`,
		result.JobID, string(data),
	); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, jobID string) (*domain.Result, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT result_json FROM job_results WHERE job_id = ?", jobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var r domain.Result
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]domain.JobSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, mode, format, target_language, total,
        succeeded, failed, stop_condition, submitted_at, finished_at
        FROM jobs ORDER BY submitted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.JobSummary
	for rows.Next() {
		var (
			j                   domain.JobSummary
			submitted, finished sql.NullString
		)
		if err := rows.Scan(&j.ID, &j.Status, &j.Mode, &j.Format, &j.TargetLanguage, &j.Total,
			&j.Succeeded, &j.Failed, &j.Condition, &submitted, &finished); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.SubmittedAt = parseTime(submitted)
		if finished.Valid && finished.String != "" {
			t := parseTime(finished)
			j.FinishedAt = &t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?",
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return res.RowsAffected()
}

// Timestamps are stored as fixed-width UTC strings so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
