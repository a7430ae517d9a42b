// Package ratelimit enforces per-credential requests-per-minute limits
// with a sliding window of admission timestamps.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/lingo/internal/core/clock"
)

// DefaultWindow is the span an RPM limit applies to.
const DefaultWindow = time.Minute

// Observer is told about every admission and how long it waited.
type Observer func(id string, admittedAt time.Time, waited time.Duration)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithWindow overrides the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithObserver registers an admission callback.
func WithObserver(o Observer) Option {
	return func(l *Limiter) { l.observer = o }
}

type slidingWindow struct {
	limit  int
	stamps []time.Time
}

// Limiter keeps one sliding window per credential. It never holds its
// lock while sleeping.
type Limiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	window   time.Duration
	windows  map[string]*slidingWindow
	observer Observer
}

// New creates a limiter with a 60s window.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		clock:   clock.Real{},
		window:  DefaultWindow,
		windows: make(map[string]*slidingWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLimit sets the admissions allowed per window for id. Zero or less
// means unlimited.
func (l *Limiter) SetLimit(id string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[id]
	if !ok {
		w = &slidingWindow{}
		l.windows[id] = w
	}
	w.limit = limit
}

// Wait blocks until id may make another request, then records it.
func (l *Limiter) Wait(ctx context.Context, id string) error {
	start := l.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		at, delay, ok := l.reserve(id)
		if ok {
			if l.observer != nil {
				l.observer(id, at, at.Sub(start))
			}
			return nil
		}
		if err := l.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// reserve admits and stamps under the lock, or reports how long until
// the oldest stamp leaves the window.
func (l *Limiter) reserve(id string) (time.Time, time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[id]
	if !ok || w.limit <= 0 {
		return now, 0, true
	}
	w.prune(now, l.window)
	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return now, 0, true
	}
	delay := w.stamps[0].Add(l.window).Sub(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	return now, delay, false
}

// Remaining returns free slots in id's current window, -1 when unlimited.
func (l *Limiter) Remaining(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[id]
	if !ok || w.limit <= 0 {
		return -1
	}
	w.prune(l.clock.Now(), l.window)
	return w.limit - len(w.stamps)
}

// prune drops stamps at or before now-window.
func (w *slidingWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
