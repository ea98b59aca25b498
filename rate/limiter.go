// Package rate throttles abuse-prone routes per shopper. Each key gets
// its own token bucket; buckets for shoppers who went quiet are swept
// so the map does not grow without bound.
package rate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	rps    float64
	burst  int
	expiry time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLimiter starts a limiter allowing rps requests per second with the
// given burst per key. A key idle longer than expiry is forgotten, after
// which it starts over with a full bucket.
func NewLimiter(burst int, expiry time.Duration, rps float64) *Limiter {
	lm := &Limiter{
		rps:     rps,
		burst:   burst,
		expiry:  expiry,
		buckets: make(map[string]*bucket),
	}
	go lm.sweep()
	return lm
}

// Allow reports whether the request identified by key may proceed now.
// The key is the shopper id for authenticated routes, the remote address
// otherwise.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.buckets[key] = b
	}
	b.lastAccess = time.Now()
	return b.limiter.Allow()
}

func (l *Limiter) sweep() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		l.mu.Lock()
		for key, b := range l.buckets {
			if time.Since(b.lastAccess) > l.expiry {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// Every converts an interval between allowed requests into the rps value
// NewLimiter expects.
func Every(interval time.Duration) float64 {
	return float64(rate.Every(interval))
}
