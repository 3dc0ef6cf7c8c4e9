package rate

import (
	"sync"
	"time"
)

const (
	// Period is the span of the sliding window.
	Period = time.Minute

	defaultSweepEvery = 5 * time.Minute
	defaultIdleTTL    = 15 * time.Minute
)

// window holds the admitted-request timestamps of one service,
// pruned to the last Period on every check.
type window struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastSeen time.Time
}

// Limiter enforces a per-service sliding-window limit. Prune, check and
// record happen under one lock per service so concurrent bursts can never
// jointly exceed the limit.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows:   make(map[string]*window, 16),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *Limiter) getWindow(name string, now time.Time) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= defaultSweepEvery {
		for key, w := range l.windows {
			// lastSeen is written under w.mu by Allow; read it the same
			// way. Lock order is always l.mu then w.mu.
			w.mu.Lock()
			idle := now.Sub(w.lastSeen) > defaultIdleTTL
			w.mu.Unlock()
			if idle {
				delete(l.windows, key)
			}
		}
		l.lastSweep = now
	}

	w := l.windows[name]
	if w == nil {
		w = &window{}
		l.windows[name] = w
	}
	return w
}

// Allow decides whether a request for name may pass under limit requests
// per Period. limit <= 0 means unlimited. On admission the request is
// recorded in the window; on rejection retryAfter says when the oldest
// entry falls out of the window.
func (l *Limiter) Allow(name string, limit int) (ok bool, retryAfter time.Duration) {
	now := l.now()
	w := l.getWindow(name, now)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSeen = now
	w.prune(now)

	if limit <= 0 {
		return true, 0
	}
	if len(w.stamps) < limit {
		w.stamps = append(w.stamps, now)
		return true, 0
	}

	retryAfter = Period - now.Sub(w.stamps[0])
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter
}

// Usage returns how many admitted requests currently sit in the window.
func (l *Limiter) Usage(name string) int {
	now := l.now()

	l.mu.Lock()
	w := l.windows[name]
	l.mu.Unlock()
	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.stamps)
}

// prune drops timestamps older than Period. Caller holds w.mu.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-Period)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
