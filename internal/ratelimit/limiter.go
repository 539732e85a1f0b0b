// Package ratelimit implements sliding-window admission control.
//
// DESIGN: One timestamp queue per caller key. On each Allow call the queue is
// pruned to the trailing window; a request is admitted only if admitting it
// keeps the queue at or under the configured maximum. State is in-memory and
// per-process: worst case after a backward clock adjustment is over-admission,
// which is acceptable for this layer.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the recognized sliding-window options.
type Config struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
}

// DefaultWindowSeconds is the trailing window length when unconfigured.
const DefaultWindowSeconds = 60

// DefaultMaxRequests is the per-key admission cap when unconfigured.
const DefaultMaxRequests = 120

// MaxBuckets caps the number of tracked keys to bound memory. When the cap
// is hit, fully drained buckets are evicted before giving up and admitting.
const MaxBuckets = 10000

// Limiter is a sliding-window rate limiter keyed by caller identity.
// Safe for concurrent use from multiple connection goroutines.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	now    func() time.Time
}

// Option configures the limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Tests use this to advance time
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter from cfg, falling back to defaults for
// non-positive values.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	l := &Limiter{
		window: time.Duration(cfg.WindowSeconds) * time.Second,
		max:    cfg.MaxRequests,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request for key is admitted right now.
// remaining is the number of further requests the key may make in the current
// window; resetInSeconds is how long until capacity frees up (for rejected
// calls, the time until the oldest tracked request leaves the window).
// Allow never fails: every outcome is encoded in the return values.
func (l *Limiter) Allow(key string) (admitted bool, remaining int, resetInSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	q := l.hits[key]
	// Prune entries that have slid out of the window.
	i := 0
	for i < len(q) && q[i].Before(windowStart) {
		i++
	}
	q = q[i:]

	if len(q) >= l.max {
		l.hits[key] = q
		resetIn := int(q[0].Sub(windowStart) / time.Second)
		if resetIn < 0 {
			resetIn = 0
		}
		return false, 0, resetIn
	}

	if _, tracked := l.hits[key]; !tracked && len(l.hits) >= MaxBuckets {
		l.evictDrained(windowStart)
		if len(l.hits) >= MaxBuckets {
			// Out of room for new keys: admit untracked rather than stall
			// legitimate traffic behind bucket accounting.
			log.Warn().Int("buckets", len(l.hits)).Msg("rate limiter bucket cap reached, admitting untracked")
			return true, l.max - 1, int(l.window / time.Second)
		}
	}

	q = append(q, now)
	l.hits[key] = q
	return true, l.max - len(q), int(l.window / time.Second)
}

// evictDrained removes buckets whose every entry has left the window.
// Caller holds l.mu.
func (l *Limiter) evictDrained(windowStart time.Time) {
	for key, q := range l.hits {
		if len(q) == 0 || !q[len(q)-1].After(windowStart) {
			delete(l.hits, key)
		}
	}
}
