// Package ratelimit implements a keyed sliding-window rate limiter.
//
// Each key tracks counts for the current and the previous fixed window; the
// previous count is weighted by how much of it still overlaps the sliding
// window ending now.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	// Max is the number of events allowed per window. Zero disables limiting.
	Max int
	// Window is the sliding window duration.
	Window time.Duration
}

// Decision is the result of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg Config

	mu   sync.Mutex
	keys map[string]*window
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:  cfg,
		keys: make(map[string]*window),
	}
}

// Limit returns the configured maximum per window.
func (l *Limiter) Limit() int {
	return l.cfg.Max
}

// Allow records one event for key at now, unless it would exceed the limit.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	if l.cfg.Max <= 0 || l.cfg.Window <= 0 {
		return Decision{Allowed: true, Remaining: -1, ResetAt: now}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.keys[key]
	if !ok {
		w = &window{currStart: now}
		l.keys[key] = w
	}
	l.rotate(w, now)

	overlap := 1 - now.Sub(w.currStart).Seconds()/l.cfg.Window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	count := w.prevCount*overlap + w.currCount
	resetAt := w.currStart.Add(l.cfg.Window)

	if count >= float64(l.cfg.Max) {
		return Decision{ResetAt: resetAt}
	}
	w.currCount++

	return Decision{
		Allowed:   true,
		Remaining: max(0, int(float64(l.cfg.Max)-count-1)),
		ResetAt:   resetAt,
	}
}

// rotate advances w so its current window contains now.
func (l *Limiter) rotate(w *window, now time.Time) {
	if now.Sub(w.currStart) < l.cfg.Window {
		return
	}
	w.prevCount, w.prevStart = w.currCount, w.currStart
	w.currCount = 0
	w.currStart = now.Truncate(l.cfg.Window)
	if now.Sub(w.prevStart) >= 2*l.cfg.Window {
		w.prevCount = 0
	}
}

// Forget drops the state of key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Cleanup drops keys whose windows have fully expired at now.
func (l *Limiter) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.keys {
		if now.Sub(w.currStart) >= 2*l.cfg.Window {
			delete(l.keys, key)
		}
	}
}

// StartCleanup runs Cleanup every two windows until ctx is cancelled.
func (l *Limiter) StartCleanup(ctx context.Context) {
	if l.cfg.Window <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(2 * l.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.Cleanup(now)
			}
		}
	}()
}
