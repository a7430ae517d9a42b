package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("not found")

// Client wraps Redis operations for job distribution and shared state.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromClient(rdb, cfg.Prefix), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "lingo"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func (c *Client) queueKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s", c.prefix, queue)
}

func (c *Client) inflightKey(queue string) string {
	return fmt.Sprintf("%s:inflight:%s", c.prefix, queue)
}

func (c *Client) specKey(id string) string {
	return fmt.Sprintf("%s:job_spec:%s", c.prefix, id)
}

func (c *Client) lockKey(id string) string {
	return fmt.Sprintf("%s:processing:%s", c.prefix, id)
}

func (c *Client) progressKey(id string) string {
	return fmt.Sprintf("%s:progress:%s", c.prefix, id)
}

func (c *Client) resultKey(id string) string {
	return fmt.Sprintf("%s:result:%s", c.prefix, id)
}

func (c *Client) cancelKey(id string) string {
	return fmt.Sprintf("%s:cancel:%s", c.prefix, id)
}

func (c *Client) usageKey() string {
	return fmt.Sprintf("%s:credential_usage", c.prefix)
}

// AcquireLock attempts to acquire a processing lock for a job.
func (c *Client) AcquireLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.lockKey(id), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases a processing lock.
func (c *Client) ReleaseLock(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, c.lockKey(id)).Err()
}

// RefreshLock extends the TTL of a lock.
func (c *Client) RefreshLock(ctx context.Context, id string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, c.lockKey(id), ttl).Err()
}
