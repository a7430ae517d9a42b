package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lingo/internal/core/clock"
	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch"
	"github.com/vietddude/lingo/internal/dispatch/chunk"
	"github.com/vietddude/lingo/internal/dispatch/pool"
	"github.com/vietddude/lingo/internal/dispatch/ratelimit"
	"github.com/vietddude/lingo/internal/infra/provider"
	"github.com/vietddude/lingo/internal/infra/storage/memory"
)

var testStart = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type fixture struct {
	clk   *clock.Fake
	pool  *pool.Pool
	mock  *provider.Mock
	store *memory.MemoryStorage
	cache *recordingCache
	mgr   *Manager
}

func newFixture(t *testing.T, script provider.ScriptFunc, creds ...string) *fixture {
	t.Helper()
	clk := clock.NewAuto(testStart)
	f := &fixture{
		clk:   clk,
		pool:  pool.New(pool.WithClock(clk), pool.WithLocation(time.UTC)),
		store: memory.NewMemoryStorage(),
		cache: &recordingCache{},
	}
	if script == nil {
		f.mock = provider.NewEcho()
	} else {
		f.mock = provider.NewMock(script)
	}

	limiter := ratelimit.New(ratelimit.WithClock(clk))
	for _, id := range creds {
		require.NoError(t, f.pool.Register(domain.CredentialDescriptor{ID: id, Provider: "mock", RPM: 100, RPD: 1000}))
		limiter.SetLimit(id, 100)
	}

	d := dispatch.New(f.pool, limiter, f.mock, dispatch.DefaultPolicy(),
		dispatch.WithClock(clk),
		dispatch.WithConfig(dispatch.Config{Concurrency: 3, CallTimeout: time.Minute}),
	)

	cfg := DefaultConfig()
	cfg.Chunking = chunk.Config{DirectSendThreshold: 40, MaxSize: 30, LookBack: 20}
	cfg.SubtitleBatch = 2
	f.mgr = NewManager(d, f.pool, cfg,
		WithClock(clk),
		WithRepository(f.store),
		WithStatusCache(f.cache),
	)
	f.mgr.Start(context.Background())
	t.Cleanup(f.mgr.Stop)
	return f
}

type recordingCache struct {
	mu       sync.Mutex
	progress []domain.Progress
	results  []domain.Result
}

func (c *recordingCache) SetProgress(_ context.Context, p domain.Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, p)
	return nil
}

func (c *recordingCache) SetResult(_ context.Context, r domain.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func (f *fixture) submitAndWait(t *testing.T, req SubmitRequest) *domain.Result {
	t.Helper()
	h, err := f.mgr.SubmitJob(context.Background(), req)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := f.mgr.Wait(ctx, h.ID)
	require.NoError(t, err)
	return res
}

func TestSubmitJob_TextCompletes(t *testing.T) {
	f := newFixture(t, nil, "k1", "k2")
	text := "The first sentence is here. The second one follows it. A third closes."

	res := f.submitAndWait(t, SubmitRequest{Text: text, Style: domain.Style{TargetLanguage: "fr"}})

	assert.Equal(t, domain.JobComplete, res.Status)
	assert.Greater(t, res.Total, 1)
	assert.Equal(t, res.Total, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, res.Total, strings.Count(res.Output, "[fr] "))
	assert.Equal(t, text, strings.ReplaceAll(res.Output, "[fr] ", ""))

	stored, err := f.store.GetResult(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, res.Output, stored.Output)

	p, err := f.mgr.GetProgress(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, res.Total, p.Completed)
	assert.Equal(t, domain.JobComplete, p.Status)

	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	require.NotEmpty(t, f.cache.results)
	assert.GreaterOrEqual(t, len(f.cache.progress), res.Total)
}

func TestSubmitJob_PoolExhaustedFailsFast(t *testing.T) {
	f := newFixture(t, nil, "k1", "k2")
	require.NoError(t, f.pool.Disable("k1"))
	require.NoError(t, f.pool.MarkExhausted("k2"))

	_, err := f.mgr.SubmitJob(context.Background(), SubmitRequest{Text: "hello", Style: domain.Style{TargetLanguage: "de"}})
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Empty(t, f.mock.Calls())

	jobs, err := f.mgr.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestReject_PublishesPoolExhausted(t *testing.T) {
	f := newFixture(t, nil, "k1")
	ctx := context.Background()

	res, err := f.mgr.Reject(ctx, SubmitRequest{
		ID:    "3f0c9a52-7d1e-4b8e-9a61-2c5d8e4f1a07",
		Lines: []string{"a", "b", "c"},
		Style: domain.Style{TargetLanguage: "de"},
	}, domain.ConditionPoolExhausted)
	require.NoError(t, err)

	assert.Equal(t, domain.JobFailed, res.Status)
	assert.Equal(t, domain.ConditionPoolExhausted, res.Condition)
	assert.Equal(t, []int{0, 1}, res.NotAttempted)
	assert.Empty(t, f.mock.Calls())

	stored, err := f.store.GetResult(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionPoolExhausted, stored.Condition)

	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	require.NotEmpty(t, f.cache.results)
	assert.Equal(t, res.JobID, f.cache.results[len(f.cache.results)-1].JobID)
	require.NotEmpty(t, f.cache.progress)
	last := f.cache.progress[len(f.cache.progress)-1]
	assert.Equal(t, domain.JobFailed, last.Status)
	assert.Equal(t, 2, last.Total)

	_, err = f.mgr.Reject(ctx, SubmitRequest{Style: domain.Style{TargetLanguage: "de"}}, domain.ConditionPoolExhausted)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitJob_Validation(t *testing.T) {
	f := newFixture(t, nil, "k1")
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing target", SubmitRequest{Text: "hi"}},
		{"bad target", SubmitRequest{Text: "hi", Style: domain.Style{TargetLanguage: "not a language!"}}},
		{"no input", SubmitRequest{Style: domain.Style{TargetLanguage: "fr"}}},
		{"two inputs", SubmitRequest{Text: "hi", Lines: []string{"a"}, Style: domain.Style{TargetLanguage: "fr"}}},
		{"bad mode", SubmitRequest{Text: "hi", Mode: "turbo", Style: domain.Style{TargetLanguage: "fr"}}},
		{"bad subtitle", SubmitRequest{Text: "no cues", Format: domain.FormatSubtitle, Style: domain.Style{TargetLanguage: "fr"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.SubmitJob(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSubmitJob_PartialFailureKeepsSource(t *testing.T) {
	script := func(_ int, _ domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome {
		if unit.Index == 1 {
			return domain.Failure(&domain.ProviderError{FinishReason: "content_filter", Message: "blocked"})
		}
		return domain.Success(provider.Echo(unit.Payload, style.TargetLanguage))
	}
	f := newFixture(t, script, "k1")

	res := f.submitAndWait(t, SubmitRequest{
		Units: []string{"one ", "two ", "three"},
		Mode:  domain.ModeIsolation,
		Style: domain.Style{TargetLanguage: "es"},
	})

	assert.Equal(t, domain.JobPartiallyComplete, res.Status)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, domain.ClassTerminal, res.Failed[0].Class)
	assert.Equal(t, "two ", res.Failed[0].Payload)
	assert.Equal(t, "[es] one [es] three", res.Output)
	assert.Equal(t, "[es] one two [es] three", res.OutputWithFallback())
}

func TestSubmitJob_Subtitle(t *testing.T) {
	f := newFixture(t, nil, "k1", "k2")
	srt := "1\n00:00:01,000 --> 00:00:02,000\nHello\n\n" +
		"2\n00:00:03,000 --> 00:00:04,000\nHow are\nyou?\n\n" +
		"3\n00:00:05,000 --> 00:00:06,000\nBye\n"

	res := f.submitAndWait(t, SubmitRequest{Text: srt, Format: domain.FormatSubtitle, Style: domain.Style{TargetLanguage: "it"}})

	assert.Equal(t, domain.JobComplete, res.Status)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t,
		"1\n00:00:01,000 --> 00:00:02,000\n[it] Hello\n\n"+
			"2\n00:00:03,000 --> 00:00:04,000\n[it] How are\nyou?\n\n"+
			"3\n00:00:05,000 --> 00:00:06,000\n[it] Bye\n",
		res.Output)
}

func TestSubmitJob_Lines(t *testing.T) {
	f := newFixture(t, nil, "k1")

	res := f.submitAndWait(t, SubmitRequest{
		Lines: []string{"a", "b", "c", "d", "e"},
		Style: domain.Style{TargetLanguage: "pt"},
	})

	assert.Equal(t, domain.JobComplete, res.Status)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, "[pt] a\n[pt] b\n[pt] c\n[pt] d\n[pt] e", res.Output)
}

func TestSubmitJob_UnitsJoinedByNewline(t *testing.T) {
	f := newFixture(t, nil, "k1")

	res := f.submitAndWait(t, SubmitRequest{
		Units: []string{"first part", "second part", "third part"},
		Style: domain.Style{TargetLanguage: "es"},
	})

	assert.Equal(t, domain.JobComplete, res.Status)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, "[es] first part\n[es] second part\n[es] third part", res.Output)
}

func TestCancel_RunningJobKeepsSettledUnits(t *testing.T) {
	reached := make(chan struct{})
	var once sync.Once
	script := func(call int, _ domain.Credential, unit domain.Unit, _ domain.Style) domain.RawOutcome {
		if unit.Index < 4 {
			return domain.Success(strings.ToUpper(unit.Payload))
		}
		once.Do(func() { close(reached) })
		time.Sleep(50 * time.Millisecond)
		return domain.Success("late")
	}
	f := newFixture(t, script, "k1")

	units := make([]string, 10)
	for i := range units {
		units[i] = "u"
	}
	h, err := f.mgr.SubmitJob(context.Background(), SubmitRequest{
		Units: units,
		Mode:  domain.ModeIsolation,
		Style: domain.Style{TargetLanguage: "fr"},
	})
	require.NoError(t, err)

	<-reached
	require.NoError(t, f.mgr.Cancel(h.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := f.mgr.Wait(ctx, h.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.JobCancelled, res.Status)
	assert.Equal(t, domain.ConditionCancelled, res.Condition)
	assert.Equal(t, 4, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, res.NotAttempted)
	assert.Equal(t, "UUUU", res.Output)

	assert.ErrorIs(t, f.mgr.Cancel(h.ID), ErrJobFinished)
}

func TestCancel_Unknown(t *testing.T) {
	f := newFixture(t, nil, "k1")
	assert.ErrorIs(t, f.mgr.Cancel("nope"), ErrJobNotFound)

	_, err := f.mgr.GetResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetResult_NotFinished(t *testing.T) {
	release := make(chan struct{})
	script := func(int, domain.Credential, domain.Unit, domain.Style) domain.RawOutcome {
		<-release
		return domain.Success("ok")
	}
	f := newFixture(t, script, "k1")

	h, err := f.mgr.SubmitJob(context.Background(), SubmitRequest{Units: []string{"x"}, Style: domain.Style{TargetLanguage: "fr"}})
	require.NoError(t, err)

	_, err = f.mgr.GetResult(context.Background(), h.ID)
	assert.ErrorIs(t, err, ErrJobNotFinished)

	close(release)
	res, err := f.mgr.Wait(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output)
}

func TestList_AndPrune(t *testing.T) {
	f := newFixture(t, nil, "k1")
	first := f.submitAndWait(t, SubmitRequest{Units: []string{"a"}, Style: domain.Style{TargetLanguage: "fr"}})
	f.clk.Advance(time.Hour)
	second := f.submitAndWait(t, SubmitRequest{Units: []string{"b"}, Style: domain.Style{TargetLanguage: "fr"}})

	jobs, err := f.mgr.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.JobID, jobs[0].ID)

	n, err := f.mgr.Prune(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.mgr.GetResult(context.Background(), first.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.mgr.GetResult(context.Background(), second.JobID)
	assert.NoError(t, err)
}

func TestSubmitJob_AfterStop(t *testing.T) {
	f := newFixture(t, nil, "k1")
	f.mgr.Stop()

	_, err := f.mgr.SubmitJob(context.Background(), SubmitRequest{Units: []string{"a"}, Style: domain.Style{TargetLanguage: "fr"}})
	assert.ErrorIs(t, err, ErrNotRunning)
}
