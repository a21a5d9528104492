package ipc

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per connection identity (the peer's
// UID on platforms where GetPeerCredentials succeeds, else the
// connection's remote address), preventing a single runaway client from
// starving a session's request loop. Connections that share an identity
// share one limiter.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter allowing requestsPerSecond sustained,
// with bursts of up to burst requests at once.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// DefaultRateLimiter allows 50 requests/second with a burst of 100 per
// connection identity — generous for interactive automation, which issues at
// most a handful of requests per watcher tick.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(50, 100)
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok = r.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(r.rate, r.burst)
	r.limiters[key] = limiter
	return limiter
}

// Allow reports whether a request under key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	return r.getLimiter(key).Allow()
}
