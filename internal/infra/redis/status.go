package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/lingo/internal/core/domain"
)

// StatusCache mirrors job progress and results so any process can read them.
type StatusCache struct {
	client *Client
	ttl    time.Duration
}

// NewStatusCache creates a cache whose entries expire after ttl.
func NewStatusCache(client *Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// SetProgress stores a progress snapshot.
func (s *StatusCache) SetProgress(ctx context.Context, p domain.Progress) error {
	return s.setJSON(ctx, s.client.progressKey(p.JobID), p)
}

// GetProgress returns the last stored progress.
func (s *StatusCache) GetProgress(ctx context.Context, jobID string) (domain.Progress, error) {
	var p domain.Progress
	err := s.getJSON(ctx, s.client.progressKey(jobID), &p)
	return p, err
}

// SetResult stores a job result.
func (s *StatusCache) SetResult(ctx context.Context, r domain.Result) error {
	return s.setJSON(ctx, s.client.resultKey(r.JobID), r)
}

// GetResult returns a stored job result.
func (s *StatusCache) GetResult(ctx context.Context, jobID string) (domain.Result, error) {
	var r domain.Result
	err := s.getJSON(ctx, s.client.resultKey(jobID), &r)
	return r, err
}

func (s *StatusCache) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *StatusCache) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
