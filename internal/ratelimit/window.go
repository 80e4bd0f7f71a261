// Package ratelimit implements the sliding-window admission controller that
// bounds how many fetches may start within a trailing wall-clock window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ikun245/telegram-linkstools/internal/metrics"
)

// Config fixes the admission policy for a SlidingWindow.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// SlidingWindow admits at most MaxRequests starts per trailing Window. The
// admission bookkeeping is shared by all workers, so every read-purge-decide-
// append sequence runs under the mutex.
type SlidingWindow struct {
	mu         sync.Mutex
	max        int
	window     time.Duration
	admissions []time.Time

	now func() time.Time
}

// New builds a SlidingWindow. Non-positive values fall back to a permissive
// single-slot policy rather than panicking.
func New(cfg Config) *SlidingWindow {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &SlidingWindow{
		max:    cfg.MaxRequests,
		window: cfg.Window,
		now:    time.Now,
	}
}

// Acquire blocks the calling worker until an admission is safe, records it,
// and returns. Other workers may be admitted while this one sleeps, so the
// decision is re-evaluated after every wait rather than trusting a one-shot
// sleep. The only error condition is context cancellation.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	start := l.now()
	for {
		l.mu.Lock()
		now := l.now()
		l.purge(now)
		if len(l.admissions) < l.max {
			l.admissions = append(l.admissions, now)
			l.mu.Unlock()
			if waited := now.Sub(start); waited > time.Millisecond {
				metrics.ObserveLimiterWait(waited)
			}
			return nil
		}
		wait := l.admissions[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Pending returns the number of admissions currently inside the window.
func (l *SlidingWindow) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(l.now())
	return len(l.admissions)
}

// purge discards admissions older than the trailing window. Callers hold mu.
func (l *SlidingWindow) purge(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admissions) && !l.admissions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admissions = append(l.admissions[:0], l.admissions[i:]...)
	}
}
