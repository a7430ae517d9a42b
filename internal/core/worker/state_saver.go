package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch/pool"
)

// PoolState is the part of the pool the saver needs. *pool.Pool implements it.
type PoolState interface {
	SaveState(ctx context.Context, store pool.StateStore) error
	Stats() []domain.CredentialStats
}

// StateSaver periodically persists credential usage so daily counters
// survive restarts.
type StateSaver struct {
	interval time.Duration
	pool     PoolState
	store    pool.StateStore
	onSave   func([]domain.CredentialStats)
	log      *slog.Logger
}

// NewStateSaver creates a saver. onSave, if set, receives the stats after
// each save and is used to refresh usage gauges.
func NewStateSaver(interval time.Duration, p PoolState, store pool.StateStore, onSave func([]domain.CredentialStats)) *StateSaver {
	return &StateSaver{
		interval: interval,
		pool:     p,
		store:    store,
		onSave:   onSave,
		log:      slog.Default().With("component", "state_saver"),
	}
}

// Start saves every interval and once more when ctx ends.
func (s *StateSaver) Start(ctx context.Context) {
	if s.interval <= 0 || s.store == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Save(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			s.Save(ctx)
		}
	}
}

// Save runs one pass.
func (s *StateSaver) Save(ctx context.Context) {
	if err := s.pool.SaveState(ctx, s.store); err != nil {
		s.log.Error("Failed to save credential usage", "error", err)
		return
	}
	if s.onSave != nil {
		s.onSave(s.pool.Stats())
	}
}
