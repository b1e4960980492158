package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle keeps one token bucket per key (for example a client address).
type Throttle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewThrottle allows perSecond events per key with the given burst. Buckets unused for
// idle are dropped by Sweep.
func NewThrottle(perSecond float64, burst int, idle time.Duration) *Throttle {
	return &Throttle{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether one event for key may happen at now.
func (t *Throttle) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.seen = now
	t.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Sweep drops buckets idle since before now-idle and returns how many were removed.
func (t *Throttle) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, b := range t.buckets {
		if now.Sub(b.seen) > t.idle {
			delete(t.buckets, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
