package postgres

import (
	"context"

	"github.com/vietddude/lingo/internal/infra/storage"
)

// Store bundles the PostgreSQL repositories.
type Store struct {
	*UsageRepo
	*JobRepo
	db *DB
}

var _ storage.Store = (*Store)(nil)

// Open connects, migrates and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{UsageRepo: NewUsageRepo(db), JobRepo: NewJobRepo(db), db: db}, nil
}

// DB exposes the underlying connection.
func (s *Store) DB() *DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
