package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// DefaultRateLimit builds the limit from the security section
func (m *Middleware) DefaultRateLimit() RateLimitConfig {
	rl := m.cfg.Security.RateLimiting
	return RateLimitConfig{
		Name:   "api",
		Limit:  rl.DefaultLimit,
		Window: rl.DefaultWindow,
		KeyFn:  IPKey,
	}
}

// RateLimit creates a fixed-window rate limiting middleware backed by Redis.
// Redis errors let the request through.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.rdb == nil || !m.cfg.Security.RateLimiting.Enabled || cfg.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := fmt.Sprintf("mailpilot:ratelimit:%s:%s", cfg.Name, cfg.KeyFn(r))

			count, err := m.rdb.CountWithin(ctx, key, cfg.Window)
			if err != nil && count == 0 {
				m.log.Error().Err(err).Msg("failed to increment rate limit counter")
				next.ServeHTTP(w, r)
				return
			}

			ttl, _ := m.rdb.TTL(ctx, key).Result()
			resetTime := time.Now().Add(ttl).Unix()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, cfg.Limit-int(count))))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

			if int(count) > cfg.Limit {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(ttl.Seconds()), 10))
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey returns the client IP address as the rate limit key
func IPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
