package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/lingo/internal/core/domain"
)

// UsageStore persists credential usage in a Redis hash keyed by
// credential ID, so several processes can share daily counters.
type UsageStore struct {
	client *Client
}

// NewUsageStore creates a Redis-backed usage store.
func NewUsageStore(client *Client) *UsageStore {
	return &UsageStore{client: client}
}

// LoadUsage reads every stored credential usage record.
func (s *UsageStore) LoadUsage(ctx context.Context) ([]domain.CredentialUsage, error) {
	fields, err := s.client.rdb.HGetAll(ctx, s.client.usageKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}

	out := make([]domain.CredentialUsage, 0, len(fields))
	for id, raw := range fields {
		var u domain.CredentialUsage
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("invalid usage record for %s: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// SaveUsage writes usage records, replacing earlier ones per credential.
func (s *UsageStore) SaveUsage(ctx context.Context, usage []domain.CredentialUsage) error {
	if len(usage) == 0 {
		return nil
	}
	values := make(map[string]any, len(usage))
	for _, u := range usage {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("failed to marshal usage for %s: %w", u.ID, err)
		}
		values[u.ID] = data
	}
	if err := s.client.rdb.HSet(ctx, s.client.usageKey(), values).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// ResetDaily zeroes the daily counter of every stored record.
func (s *UsageStore) ResetDaily(ctx context.Context) error {
	usage, err := s.LoadUsage(ctx)
	if err != nil {
		return err
	}
	for i := range usage {
		usage[i].UsedToday = 0
		usage[i].Exhausted = false
	}
	return s.SaveUsage(ctx, usage)
}
