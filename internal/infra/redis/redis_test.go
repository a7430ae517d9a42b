package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/lingo/internal/core/domain"
)

// setupRedis spins up a Redis container and returns a connected client.
func setupRedis(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(Config{URL: "redis://" + host + ":" + port.Port(), Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestQueue_PushPop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	c := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.PushJob(ctx, "jobs", "a", []byte(`{"n":1}`), time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.PushJob(ctx, "jobs", "b", []byte(`{"n":2}`), time.Minute))

	waiting, leased, err := c.QueueDepth(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), waiting)
	assert.Equal(t, int64(0), leased)

	id, spec, found, err := c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", id)
	assert.JSONEq(t, `{"n":1}`, string(spec))

	require.NoError(t, c.RequeueJob(ctx, "jobs", "a"))
	id, _, _, err = c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "a", id)
	require.NoError(t, c.CompleteJob(ctx, "jobs", "a"))

	id, _, _, err = c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	waiting, leased, err = c.QueueDepth(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(0), waiting)
	assert.Equal(t, int64(1), leased)

	_, _, found, err = c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueue_ExpiredLeaseReturnsToQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	c := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.PushJob(ctx, "jobs", "crashed", []byte(`{}`), time.Minute))
	require.NoError(t, c.PushJob(ctx, "jobs", "alive", []byte(`{}`), time.Minute))

	id, _, found, err := c.PopJob(ctx, "jobs", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "crashed", id)

	id, _, _, err = c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "alive", id)
	_, _, found, err = c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	assert.False(t, found)

	// The live job keeps its lease; the crashed one comes back.
	require.NoError(t, c.ExtendLease(ctx, "jobs", "alive", time.Minute))
	time.Sleep(100 * time.Millisecond)
	id, spec, found, err := c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "crashed", id)
	assert.JSONEq(t, `{}`, string(spec))

	_, _, found, err = c.PopJob(ctx, "jobs", time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLockAndCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	c := setupRedis(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "job", "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.AcquireLock(ctx, "job", "w2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.ReleaseLock(ctx, "job"))

	requested, err := c.CancelRequested(ctx, "job")
	require.NoError(t, err)
	assert.False(t, requested)
	require.NoError(t, c.RequestCancel(ctx, "job", time.Minute))
	requested, err = c.CancelRequested(ctx, "job")
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestStatusCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	c := setupRedis(t)
	ctx := context.Background()
	cache := NewStatusCache(c, time.Minute)

	_, err := cache.GetProgress(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, cache.SetProgress(ctx, domain.Progress{JobID: "j", Completed: 3, Total: 5}))
	p, err := cache.GetProgress(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Completed)

	require.NoError(t, cache.SetResult(ctx, domain.Result{JobID: "j", Status: domain.JobComplete, Output: "done"}))
	r, err := cache.GetResult(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, "done", r.Output)
}

func TestUsageStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	c := setupRedis(t)
	ctx := context.Background()
	store := NewUsageStore(c)

	usage, err := store.LoadUsage(ctx)
	require.NoError(t, err)
	assert.Empty(t, usage)

	require.NoError(t, store.SaveUsage(ctx, []domain.CredentialUsage{
		{ID: "a", UsedToday: 4, UsedTotal: 10, Exhausted: true},
		{ID: "b", UsedToday: 1, Disabled: true},
	}))
	require.NoError(t, store.ResetDaily(ctx))

	usage, err = store.LoadUsage(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	byID := map[string]domain.CredentialUsage{}
	for _, u := range usage {
		byID[u.ID] = u
	}
	assert.Equal(t, 0, byID["a"].UsedToday)
	assert.Equal(t, int64(10), byID["a"].UsedTotal)
	assert.False(t, byID["a"].Exhausted)
	assert.True(t, byID["b"].Disabled)
}

func TestNewFromClient_DefaultPrefix(t *testing.T) {
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	assert.Equal(t, "lingo:queue:jobs", c.queueKey("jobs"))
	assert.Equal(t, "lingo:credential_usage", c.usageKey())
	_ = c.Close()
}
