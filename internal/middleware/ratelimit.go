package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*limiterEntry
	capacity   int
	refillRate rate.Limit
	idle       time.Duration
}

func NewRateLimiter(capacity, refillRate int) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*limiterEntry),
		capacity:   capacity,
		refillRate: rate.Limit(refillRate),
		idle:       10 * time.Minute,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	rl.mu.Lock()
	e, ok := rl.buckets[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.refillRate, rl.capacity)}
		rl.buckets[key] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Sweep removes buckets that have been idle; returns how many were dropped.
func (rl *RateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, e := range rl.buckets {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) cleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			rl.Sweep(now)
		}
	}
}

// RateLimitMiddleware limits each client+IP pair.
// capacity: burst size
// refillRate: tokens added per second
// The sweeper goroutine stops when stop is closed.
func RateLimitMiddleware(capacity, refillRate int, stop <-chan struct{}) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(capacity, refillRate)
	go limiter.cleanup(stop)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			key := GetClientFromContext(r.Context()) + ":" + ip

			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
