package channel

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows ratePerMinute requests per key with the given burst.
func NewRateLimiter(ratePerMinute float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 120
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(ratePerMinute / 60.0),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow consumes a token for key if one is available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.evict(now)
	return b.lim.AllowN(now, 1)
}

// evict drops buckets idle for longer than limiterIdleTTL. Caller holds mu.
func (rl *RateLimiter) evict(now time.Time) {
	if len(rl.buckets) < 1024 {
		return
	}
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(rl.buckets, k)
		}
	}
}

// Middleware rejects requests over the per-IP limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			rw.Header().Set("Retry-After", "60")
			writeError(rw, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// clientIP uses RemoteAddr, which chi's RealIP middleware has already
// rewritten from proxy headers when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
