package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/domain"
)

var testStart = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newTestPool(t *testing.T, descs ...domain.CredentialDescriptor) (*Pool, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(testStart)
	p := New(WithClock(c), WithLocation(time.UTC))
	for _, d := range descs {
		require.NoError(t, p.Register(d))
	}
	return p, c
}

func cred(id string, rpd int) domain.CredentialDescriptor {
	return domain.CredentialDescriptor{ID: id, Provider: "mock", RPM: 10, RPD: rpd}
}

func TestRegister_Validation(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 0))

	assert.ErrorIs(t, p.Register(cred("a", 0)), ErrDuplicateCredential)
	assert.ErrorIs(t, p.Register(domain.CredentialDescriptor{}), ErrInvalidCredential)
	assert.ErrorIs(t, p.Register(domain.CredentialDescriptor{ID: "b", RPM: -1}), ErrInvalidCredential)
	assert.Equal(t, 1, p.Len())
}

func TestAcquire_RoundRobin(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 0), cred("b", 0), cred("c", 0))

	var got []string
	for i := 0; i < 6; i++ {
		c, err := p.Acquire(AcquireOptions{})
		require.NoError(t, err)
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestAcquire_LeastRecentlyUsed(t *testing.T) {
	p, clk := newTestPool(t, cred("a", 0), cred("b", 0))
	lru := AcquireOptions{Strategy: StrategyLeastRecentlyUsed}

	first, err := p.Acquire(lru)
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)

	clk.Advance(time.Second)
	second, err := p.Acquire(lru)
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)

	clk.Advance(time.Second)
	third, err := p.Acquire(lru)
	require.NoError(t, err)
	assert.Equal(t, "a", third.ID)
}

func TestAcquire_ExhaustedNeverReturned(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 2), cred("b", 0))

	counts := map[string]int{}
	for i := 0; i < 20; i++ {
		c, err := p.Acquire(AcquireOptions{})
		require.NoError(t, err)
		counts[c.ID]++
	}
	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 18, counts["b"])

	a, _ := p.Get("a")
	assert.Equal(t, domain.CredentialExhausted, a.State)
}

func TestAcquire_PoolExhausted(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 1), cred("b", 1))

	_, err := p.Acquire(AcquireOptions{})
	require.NoError(t, err)
	_, err = p.Acquire(AcquireOptions{})
	require.NoError(t, err)

	_, err = p.Acquire(AcquireOptions{})
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, 0, p.Usable())

	empty, _ := newTestPool(t)
	_, err = empty.Acquire(AcquireOptions{})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAcquire_CooldownReportsRetryAt(t *testing.T) {
	p, clk := newTestPool(t, cred("a", 0), cred("b", 0))

	require.NoError(t, p.MarkCooldown("a", 30*time.Second))
	require.NoError(t, p.MarkCooldown("b", 10*time.Second))

	_, err := p.Acquire(AcquireOptions{})
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.ErrorIs(t, err, ErrNoCredentialAvailable)
	assert.Equal(t, testStart.Add(10*time.Second), unavailable.RetryAt)

	clk.Advance(10 * time.Second)
	c, err := p.Acquire(AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)
}

func TestMarkCooldown_KeepsLaterExpiry(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 0))

	require.NoError(t, p.MarkCooldown("a", time.Minute))
	require.NoError(t, p.MarkCooldown("a", time.Second))

	a, _ := p.Get("a")
	assert.Equal(t, testStart.Add(time.Minute), a.CooldownUntil)
	assert.ErrorIs(t, p.MarkCooldown("missing", time.Second), ErrCredentialNotFound)
}

func TestAcquire_ExcludeAll(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 0))

	_, err := p.Acquire(AcquireOptions{Exclude: map[string]bool{"a": true}})
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, unavailable.RetryAt.IsZero())
}

func TestReuse(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 2))

	_, err := p.Acquire(AcquireOptions{})
	require.NoError(t, err)
	c, err := p.Reuse("a")
	require.NoError(t, err)
	assert.Equal(t, 2, c.UsedToday)

	_, err = p.Reuse("a")
	assert.ErrorIs(t, err, ErrCredentialUnusable)
	_, err = p.Reuse("nope")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestDailyReset_AtMidnight(t *testing.T) {
	p, clk := newTestPool(t, cred("a", 1))

	_, err := p.Acquire(AcquireOptions{})
	require.NoError(t, err)
	_, err = p.Acquire(AcquireOptions{})
	require.ErrorIs(t, err, ErrPoolExhausted)

	clk.Advance(14 * time.Hour)
	c, err := p.Acquire(AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedToday)
	assert.Equal(t, int64(2), c.UsedTotal)
}

func TestTotalLimit_SurvivesDailyReset(t *testing.T) {
	p, _ := newTestPool(t, domain.CredentialDescriptor{ID: "a", TotalLimit: 1})

	_, err := p.Acquire(AcquireOptions{})
	require.NoError(t, err)

	p.ResetDaily()
	_, err = p.Acquire(AcquireOptions{})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestDisableEnable(t *testing.T) {
	p, _ := newTestPool(t, cred("a", 0), cred("b", 0))

	require.NoError(t, p.Disable("a"))
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(AcquireOptions{})
		require.NoError(t, err)
		assert.Equal(t, "b", c.ID)
	}

	require.NoError(t, p.Enable("a"))
	a, _ := p.Get("a")
	assert.Equal(t, domain.CredentialAvailable, a.State)
	assert.ErrorIs(t, p.Disable("zzz"), ErrCredentialNotFound)
}

type memStore struct {
	usage []domain.CredentialUsage
}

func (m *memStore) LoadUsage(context.Context) ([]domain.CredentialUsage, error) {
	return m.usage, nil
}

func (m *memStore) SaveUsage(_ context.Context, u []domain.CredentialUsage) error {
	m.usage = u
	return nil
}

func TestSaveLoadState(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}

	p, _ := newTestPool(t, cred("a", 3), cred("b", 0))
	_, _ = p.Acquire(AcquireOptions{})
	_, _ = p.Acquire(AcquireOptions{})
	require.NoError(t, p.Disable("b"))
	require.NoError(t, p.SaveState(ctx, store))

	restored, _ := newTestPool(t, cred("a", 3), cred("b", 0))
	require.NoError(t, restored.LoadState(ctx, store))

	a, _ := restored.Get("a")
	b, _ := restored.Get("b")
	assert.Equal(t, 1, a.UsedToday)
	assert.Equal(t, domain.CredentialDisabled, b.State)
}

func TestRestore_DropsStaleDailyCounters(t *testing.T) {
	p, clk := newTestPool(t, cred("a", 1))
	_, _ = p.Acquire(AcquireOptions{})
	snap := p.Snapshot()
	require.True(t, snap[0].Exhausted)

	clk.Advance(24 * time.Hour)
	next := New(WithClock(clk), WithLocation(time.UTC))
	require.NoError(t, next.Register(cred("a", 1)))
	next.Restore(snap)

	a, _ := next.Get("a")
	assert.Equal(t, 0, a.UsedToday)
	assert.Equal(t, int64(1), a.UsedTotal)
	assert.Equal(t, domain.CredentialAvailable, a.State)
}

type fixedWindow int

func (f fixedWindow) Remaining(string) int { return int(f) }

func TestStats(t *testing.T) {
	c := clock.NewFake(testStart)
	p := New(WithClock(c), WithLocation(time.UTC), WithWindow(fixedWindow(7)))
	require.NoError(t, p.Register(domain.CredentialDescriptor{ID: "a", Provider: "openai", Secret: "sk-1", RPM: 10}))
	_, _ = p.Acquire(AcquireOptions{})

	stats := p.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "a", stats[0].ID)
	assert.Equal(t, 1, stats[0].UsedToday)
	assert.Equal(t, 7, stats[0].WindowFree)
}
