package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

// UsageRepo implements storage.UsageRepository using PostgreSQL.
type UsageRepo struct {
	db *DB
}

// NewUsageRepo creates a new PostgreSQL usage repository.
func NewUsageRepo(db *DB) *UsageRepo {
	return &UsageRepo{db: db}
}

type usageRow struct {
	ID            string       `db:"id"`
	UsedToday     int          `db:"used_today"`
	UsedTotal     int64        `db:"used_total"`
	Disabled      bool         `db:"disabled"`
	Exhausted     bool         `db:"exhausted"`
	CooldownUntil sql.NullTime `db:"cooldown_until"`
	LastUsedAt    sql.NullTime `db:"last_used_at"`
	ResetAt       sql.NullTime `db:"reset_at"`
}

// LoadUsage returns every stored usage record.
func (r *UsageRepo) LoadUsage(ctx context.Context) ([]domain.CredentialUsage, error) {
	var rows []usageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, used_today, used_total, disabled, exhausted,
        cooldown_until, last_used_at, reset_at FROM credential_usage ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}

	out := make([]domain.CredentialUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.CredentialUsage{
			ID:            row.ID,
			UsedToday:     row.UsedToday,
			UsedTotal:     row.UsedTotal,
			Disabled:      row.Disabled,
			Exhausted:     row.Exhausted,
			CooldownUntil: fromNull(row.CooldownUntil),
			LastUsedAt:    fromNull(row.LastUsedAt),
			ResetAt:       fromNull(row.ResetAt),
		})
	}
	return out, nil
}

// SaveUsage upserts the given usage records in one transaction.
func (r *UsageRepo) SaveUsage(ctx context.Context, usage []domain.CredentialUsage) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, u := range usage {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO credential_usage (
                id, used_today, used_total, disabled, exhausted, cooldown_until, last_used_at, reset_at
            ) VALUES (
                :id, :used_today, :used_total, :disabled, :exhausted, :cooldown_until, :last_used_at, :reset_at
            )
            ON CONFLICT (id) DO UPDATE SET
                used_today = EXCLUDED.used_today,
                used_total = EXCLUDED.used_total,
                disabled = EXCLUDED.disabled,
                exhausted = EXCLUDED.exhausted,
                cooldown_until = EXCLUDED.cooldown_until,
                last_used_at = EXCLUDED.last_used_at,
                reset_at = EXCLUDED.reset_at,
                updated_at = NOW()`,
			usageRow{
				ID:            u.ID,
				UsedToday:     u.UsedToday,
				UsedTotal:     u.UsedTotal,
				Disabled:      u.Disabled,
				Exhausted:     u.Exhausted,
				CooldownUntil: toNull(u.CooldownUntil),
				LastUsedAt:    toNull(u.LastUsedAt),
				ResetAt:       toNull(u.ResetAt),
			},
		)
		if err != nil {
			return fmt.Errorf("failed to save usage %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func toNull(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNull(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
