// Package clock abstracts time so dispatch timing can be driven by tests.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock provides the current time and a context-aware sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fake is a manually advanced clock. Sleep registers a waiter that is
// released once Advance moves time past its deadline. With AutoAdvance set,
// Sleep advances the clock itself, which keeps single-goroutine tests simple.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	waiters     []*waiter
	AutoAdvance bool
}

type waiter struct {
	until time.Time
	ch    chan struct{}
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewAuto returns a fake clock whose Sleep advances time immediately.
func NewAuto(start time.Time) *Fake {
	return &Fake{now: start, AutoAdvance: true}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep blocks until the clock reaches now+d or ctx is done.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	f.mu.Lock()
	until := f.now.Add(d)
	if f.AutoAdvance {
		f.advanceLocked(until)
		f.mu.Unlock()
		return ctx.Err()
	}
	w := &waiter{until: until, ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

// Advance moves the clock forward by d and releases due sleepers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceLocked(f.now.Add(d))
}

// Waiters returns the number of goroutines blocked in Sleep.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

func (f *Fake) advanceLocked(to time.Time) {
	if to.After(f.now) {
		f.now = to
	}
	sort.Slice(f.waiters, func(i, j int) bool { return f.waiters[i].until.Before(f.waiters[j].until) })
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.until.After(f.now) {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}
