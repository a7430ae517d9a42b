package aggregate

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lingo/internal/core/domain"
)

func units(n int) []domain.Unit {
	out := make([]domain.Unit, n)
	for i := range out {
		out[i] = domain.Unit{Index: i, Payload: string(rune('a' + i)), Separator: " "}
	}
	out[n-1].Separator = ""
	return out
}

func ok(i int) domain.UnitOutcome {
	return domain.UnitOutcome{Index: i, Status: domain.UnitSucceeded, Text: string(rune('A' + i))}
}

func failed(i int) domain.UnitOutcome {
	return domain.UnitOutcome{Index: i, Status: domain.UnitTerminalFailure, Class: domain.ClassTerminal, Reason: "blocked"}
}

// Completion order never changes the assembled output.
func TestResult_OrderIndependent(t *testing.T) {
	const n = 8
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		agg := New(units(n))
		var wg sync.WaitGroup
		for _, i := range rng.Perm(n) {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, agg.Record(ok(i)))
			}(i)
		}
		wg.Wait()

		res := agg.Result("job", domain.ConditionNone, time.Time{})
		assert.Equal(t, "A B C D E F G H", res.Output)
		assert.Equal(t, domain.JobComplete, res.Status)
	}
}

func TestResult_PartialFailure(t *testing.T) {
	agg := New(units(5))
	for _, i := range []int{4, 0, 3, 1} {
		require.NoError(t, agg.Record(ok(i)))
	}
	require.NoError(t, agg.Record(failed(2)))

	res := agg.Result("job", domain.ConditionNone, time.Time{})
	assert.Equal(t, domain.JobPartiallyComplete, res.Status)
	assert.Equal(t, "A B D E", res.Output)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 2, res.Failed[0].Index)
	assert.Equal(t, "c", res.Failed[0].Payload)
	assert.Equal(t, "blocked", res.Failed[0].Reason)
	assert.Equal(t, "A B c D E", res.OutputWithFallback())
	assert.Empty(t, res.NotAttempted)
}

func TestResult_Statuses(t *testing.T) {
	allFailed := New(units(2))
	require.NoError(t, allFailed.Record(failed(0)))
	require.NoError(t, allFailed.Record(failed(1)))
	assert.Equal(t, domain.JobFailed, allFailed.Result("j", domain.ConditionNone, time.Time{}).Status)

	cancelled := New(units(3))
	require.NoError(t, cancelled.Record(ok(0)))
	res := cancelled.Result("j", domain.ConditionCancelled, time.Time{})
	assert.Equal(t, domain.JobCancelled, res.Status)
	assert.Equal(t, []int{1, 2}, res.NotAttempted)
	assert.Equal(t, "A ", res.Output)

	exhausted := New(units(3))
	require.NoError(t, exhausted.Record(ok(0)))
	res = exhausted.Result("j", domain.ConditionPoolExhausted, time.Time{})
	assert.Equal(t, domain.JobPartiallyComplete, res.Status)
	assert.Equal(t, []int{1, 2}, res.NotAttempted)
}

func TestRecord_Rejects(t *testing.T) {
	agg := New(units(2))

	assert.ErrorIs(t, agg.Record(ok(2)), ErrIndexOutOfRange)
	assert.ErrorIs(t, agg.Record(ok(-1)), ErrIndexOutOfRange)
	assert.ErrorIs(t, agg.Record(domain.UnitOutcome{Index: 0, Status: domain.UnitInFlight}), ErrNotTerminal)

	require.NoError(t, agg.Record(ok(0)))
	assert.ErrorIs(t, agg.Record(failed(0)), ErrAlreadyRecorded)

	p := agg.Progress()
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 2, p.Total)
}

func TestTransition_TracksLiveStates(t *testing.T) {
	agg := New(units(3))

	agg.Transition(0, domain.UnitInFlight)
	agg.Transition(1, domain.UnitInFlight)
	agg.Transition(1, domain.UnitRetryableFailure)
	p := agg.Progress()
	assert.Equal(t, 1, p.InFlight)
	assert.Equal(t, 1, p.Retrying)

	require.NoError(t, agg.Record(ok(0)))
	agg.Transition(0, domain.UnitInFlight)
	agg.Transition(1, domain.UnitInFlight)
	agg.Transition(7, domain.UnitInFlight)
	p = agg.Progress()
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 1, p.InFlight)
	assert.Equal(t, 0, p.Retrying)

	// An abandoned unit goes back to pending and is reported as not attempted.
	agg.Transition(1, domain.UnitPending)
	res := agg.Result("j", domain.ConditionCancelled, time.Time{})
	assert.Equal(t, []int{1, 2}, res.NotAttempted)
	assert.Equal(t, 0, agg.Progress().InFlight)
}
