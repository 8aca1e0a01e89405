package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	// Name separates the counters of different limits sharing a key
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// RateLimit creates a fixed-window rate limiting middleware backed by Redis.
// Redis failures let the request through.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.limits.Enabled || m.rdb == nil || cfg.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("ratelimit:%s:%s", cfg.Name, cfg.KeyFn(r))
			count, ttl, err := m.rdb.IncrWindow(r.Context(), key, cfg.Window)
			if err != nil {
				m.log.Error().Err(err).Str("limit", cfg.Name).Msg("rate limit check failed")
				if count == 0 {
					next.ServeHTTP(w, r)
					return
				}
			}
			resetTime := time.Now().Add(ttl).Unix()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, cfg.Limit-int(count))))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

			if int(count) > cfg.Limit {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(ttl.Seconds()), 10))
				m.log.Warn().Str("limit", cfg.Name).Str("key", cfg.KeyFn(r)).Msg("rate limit exceeded")
				writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey returns the client IP address as the rate limit key
func IPKey(r *http.Request) string {
	return ClientIP(r)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
