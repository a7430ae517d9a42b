// Package aggregate collects per-unit outcomes in any order and builds
// the ordered job result.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

var (
	ErrIndexOutOfRange = errors.New("unit index out of range")
	ErrAlreadyRecorded = errors.New("unit outcome already recorded")
	ErrNotTerminal     = errors.New("unit outcome is not terminal")
)

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	units     []domain.Unit
	outcomes  []domain.UnitOutcome
	states    []domain.UnitStatus
	succeeded int
	failed    int
	inFlight  int
	retrying  int
}

// New creates an aggregator for units, which must be indexed 0..N-1.
func New(units []domain.Unit) *Aggregator {
	src := make([]domain.Unit, len(units))
	for _, u := range units {
		if u.Index >= 0 && u.Index < len(units) {
			src[u.Index] = u
		}
	}
	states := make([]domain.UnitStatus, len(units))
	for i := range states {
		states[i] = domain.UnitPending
	}
	return &Aggregator{
		units:    src,
		outcomes: make([]domain.UnitOutcome, len(units)),
		states:   states,
	}
}

func terminal(s domain.UnitStatus) bool {
	return s == domain.UnitSucceeded || s == domain.UnitTerminalFailure
}

// Transition moves an unsettled unit between pending, in flight and
// retryable failure. Settled units and unknown indexes are ignored.
func (a *Aggregator) Transition(index int, status domain.UnitStatus) {
	if terminal(status) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.states) || terminal(a.states[index]) {
		return
	}
	a.setLocked(index, status)
}

func (a *Aggregator) setLocked(index int, status domain.UnitStatus) {
	switch a.states[index] {
	case domain.UnitInFlight:
		a.inFlight--
	case domain.UnitRetryableFailure:
		a.retrying--
	}
	switch status {
	case domain.UnitInFlight:
		a.inFlight++
	case domain.UnitRetryableFailure:
		a.retrying++
	}
	a.states[index] = status
}

// Record stores a terminal outcome. Each index may be recorded once.
func (a *Aggregator) Record(o domain.UnitOutcome) error {
	if !terminal(o.Status) {
		return fmt.Errorf("%w: unit %d is %s", ErrNotTerminal, o.Index, o.Status)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if o.Index < 0 || o.Index >= len(a.outcomes) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, o.Index, len(a.outcomes))
	}
	if terminal(a.states[o.Index]) {
		return fmt.Errorf("%w: %d", ErrAlreadyRecorded, o.Index)
	}
	a.outcomes[o.Index] = o
	a.setLocked(o.Index, o.Status)
	if o.Status == domain.UnitSucceeded {
		a.succeeded++
	} else {
		a.failed++
	}
	return nil
}

// Progress counts settled units and those still in flight or retrying.
func (a *Aggregator) Progress() domain.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.Progress{
		Completed: a.succeeded + a.failed,
		Total:     len(a.outcomes),
		Succeeded: a.succeeded,
		Failed:    a.failed,
		InFlight:  a.inFlight,
		Retrying:  a.retrying,
	}
}

// Result builds the job result. Units without an outcome are listed as
// not attempted.
func (a *Aggregator) Result(jobID string, cond domain.Condition, finishedAt time.Time) domain.Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := domain.Result{
		JobID:      jobID,
		Condition:  cond,
		Units:      make([]domain.UnitOutcome, len(a.outcomes)),
		Total:      len(a.outcomes),
		Succeeded:  a.succeeded,
		FinishedAt: finishedAt,
	}

	var out strings.Builder
	for i, o := range a.outcomes {
		if !terminal(a.states[i]) {
			res.Units[i] = domain.UnitOutcome{Index: i, Status: domain.UnitPending}
			res.NotAttempted = append(res.NotAttempted, i)
			continue
		}
		res.Units[i] = o
		switch o.Status {
		case domain.UnitSucceeded:
			out.WriteString(o.Text)
			out.WriteString(a.units[i].Separator)
		default:
			res.Failed = append(res.Failed, domain.FailedUnit{
				Index:   i,
				Class:   o.Class,
				Reason:  o.Reason,
				Payload: a.units[i].Payload,
			})
		}
	}
	res.Output = out.String()
	res.Status = status(a.succeeded, a.failed, len(a.outcomes), cond)
	res.WithSource(a.units)
	return res
}

func status(succeeded, failed, total int, cond domain.Condition) domain.JobStatus {
	switch {
	case succeeded == total:
		return domain.JobComplete
	case (cond == domain.ConditionCancelled || cond == domain.ConditionTimedOut) && succeeded+failed < total:
		return domain.JobCancelled
	case succeeded == 0:
		return domain.JobFailed
	default:
		return domain.JobPartiallyComplete
	}
}
