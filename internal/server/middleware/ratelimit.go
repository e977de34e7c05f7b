// Package middleware holds HTTP middleware shared by the preview server.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimit represents a rate limiter configuration.
type RateLimit struct {
	RequestsPerMinute int
	BurstLimit        int
}

// RateLimiter implements a token bucket rate limiter per client address.
type RateLimiter struct {
	config  RateLimit
	buckets map[string]*tokenBucket
	mutex   sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimit) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.BurstLimit <= 0 {
		config.BurstLimit = 1
	}
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}
	go rl.cleanup(5 * time.Minute)
	return rl
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientAddr(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether a request from key may proceed and consumes a token.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{
			tokens:     rl.config.BurstLimit,
			maxTokens:  rl.config.BurstLimit,
			refillRate: time.Minute / time.Duration(rl.config.RequestsPerMinute),
			lastRefill: now,
		}
		rl.buckets[key] = bucket
	}

	if add := int(now.Sub(bucket.lastRefill) / bucket.refillRate); add > 0 {
		bucket.tokens = min(bucket.maxTokens, bucket.tokens+add)
		bucket.lastRefill = bucket.lastRefill.Add(time.Duration(add) * bucket.refillRate)
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mutex.Lock()
		for key, bucket := range rl.buckets {
			if bucket.lastRefill.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mutex.Unlock()
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// clientAddr keys buckets by the connection's address. Forwarding headers
// are ignored: the server binds to a local interface and they are trivially
// spoofed.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
