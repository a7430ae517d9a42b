package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lingo/internal/core/clock"
)

var start = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func TestWait_AdmitsUpToLimit(t *testing.T) {
	clk := clock.NewAuto(start)
	l := New(WithClock(clk))
	l.SetLimit("k", 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, "k"))
	}
	assert.Equal(t, start, clk.Now())
	assert.Equal(t, 0, l.Remaining("k"))

	// The fourth waits for the first stamp to leave the window.
	require.NoError(t, l.Wait(ctx, "k"))
	assert.Equal(t, start.Add(time.Minute), clk.Now())
}

func TestWait_UnlimitedAndUnknown(t *testing.T) {
	clk := clock.NewAuto(start)
	l := New(WithClock(clk))
	l.SetLimit("free", 0)

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "free"))
		require.NoError(t, l.Wait(context.Background(), "unknown"))
	}
	assert.Equal(t, start, clk.Now())
	assert.Equal(t, -1, l.Remaining("free"))
}

func TestWait_Cancelled(t *testing.T) {
	clk := clock.NewFake(start)
	l := New(WithClock(clk))
	l.SetLimit("k", 1)
	require.NoError(t, l.Wait(context.Background(), "k"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx, "k") }()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, l.Remaining("k"))
}

func TestRemaining_SlidingWindow(t *testing.T) {
	clk := clock.NewFake(start)
	l := New(WithClock(clk))
	l.SetLimit("k", 2)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "k"))
	clk.Advance(30 * time.Second)
	require.NoError(t, l.Wait(ctx, "k"))
	assert.Equal(t, 0, l.Remaining("k"))

	// A stamp exactly one window old no longer counts.
	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, l.Remaining("k"))
	require.NoError(t, l.Wait(ctx, "k"))
	assert.Equal(t, 0, l.Remaining("k"))
}

// No trailing window ever holds more than the limit, whatever the number
// of concurrent callers.
func TestWait_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	const limit, callers = 3, 12

	clk := clock.NewFake(start)
	var mu sync.Mutex
	var admitted []time.Time
	l := New(WithClock(clk), WithObserver(func(_ string, at time.Time, _ time.Duration) {
		mu.Lock()
		admitted = append(admitted, at)
		mu.Unlock()
	}))
	l.SetLimit("k", limit)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(context.Background(), "k"))
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	deadline := time.After(5 * time.Second)
loop:
	for {
		select {
		case <-done:
			break loop
		case <-deadline:
			t.Fatal("callers did not finish")
		default:
			time.Sleep(time.Millisecond)
			clk.Advance(5 * time.Second)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, admitted, callers)
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Before(admitted[j]) })
	for i, at := range admitted {
		inWindow := 0
		for _, other := range admitted[:i+1] {
			if other.After(at.Add(-time.Minute)) {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, limit, "window ending at %s", at)
	}
}
