// Package middleware carries the HTTP cross-cutting pieces of serve
// mode: per-client rate limiting and request metrics.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket per client address, refilled at a
// fixed number of requests per minute. It protects the endpoints that
// start analysis runs.
type RateLimiter struct {
	mu       sync.Mutex
	perMin   int
	buckets  map[string]*bucket
	stopCh   chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing perMin requests per
// minute per client.
func NewRateLimiter(perMin int) *RateLimiter {
	rl := &RateLimiter{
		perMin:  perMin,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Wrap enforces the limit before calling next.
func (rl *RateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next(w, r)
	}
}

// Allow reports whether one more request from the client fits the
// budget, consuming a token when it does.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[client]
	if !ok {
		rl.buckets[client] = &bucket{tokens: rl.perMin - 1, lastRefill: now}
		return true
	}

	refill := int(now.Sub(b.lastRefill).Minutes() * float64(rl.perMin))
	if refill > 0 {
		b.tokens = min(rl.perMin, b.tokens+refill)
		b.lastRefill = now
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// Stop ends the eviction loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// evictLoop drops buckets idle for ten minutes.
func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for client, b := range rl.buckets {
				if time.Since(b.lastRefill) > 10*time.Minute {
					delete(rl.buckets, client)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// clientKey is the remote host without the ephemeral port, so one
// client maps to one bucket across connections.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
