package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against
type KeyFunc func(r *http.Request) string

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages token buckets keyed by caller or platform
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	keyFunc  KeyFunc
	logger   *logger.Logger
}

// NewRateLimiter creates a new rate limiter.
// rps is requests per second, burst the maximum burst size.
// A nil keyFunc counts requests per caller.
func NewRateLimiter(rps float64, burst int, keyFunc KeyFunc, log *logger.Logger) *RateLimiter {
	if keyFunc == nil {
		keyFunc = ByCaller
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		keyFunc:  keyFunc,
		logger:   log,
	}
}

// getLimiter returns the bucket for the given identifier
func (rl *RateLimiter) getLimiter(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[identifier]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[identifier] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter
}

// Cleanup periodically drops buckets idle for longer than interval
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now().Add(-interval))
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, id)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := rl.keyFunc(r)

			if !rl.getLimiter(identifier).Allow() {
				rl.logger.Warn("Rate limit exceeded", zap.String("identifier", identifier), zap.String("path", r.URL.Path))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", rl.retryAfter())
				respondError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter is the whole number of seconds until one token refills
func (rl *RateLimiter) retryAfter() string {
	if rl.rate <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(rl.rate))))
}

// ByCaller identifies the authenticated user, falling back to the client IP
func ByCaller(r *http.Request) string {
	if userID := auth.UserID(r.Context()); userID != "" {
		return fmt.Sprintf("user:%s", userID)
	}
	return fmt.Sprintf("ip:%s", clientIP(r))
}

// ByURLParam buckets requests by a chi route parameter, e.g. the webhook platform
func ByURLParam(name string) KeyFunc {
	return func(r *http.Request) string {
		return fmt.Sprintf("%s:%s", name, chi.URLParam(r, name))
	}
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
