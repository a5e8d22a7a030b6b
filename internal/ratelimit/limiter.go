// Package ratelimit throttles the scan endpoint per actor. Field devices
// retry aggressively on poor connectivity; a fixed window in Redis keeps one
// device from starving the rest. The limiter fails open: when Redis is down
// or not configured, scans proceed.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"permitgate/internal/platform/middleware"
)

const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// RedisLimiter implements a fixed-window counter per key.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	if client == nil {
		return nil
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

// Allow reports whether the key has budget left in the current window.
// A nil limiter, bad parameters, or a Redis failure all allow the request.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.client == nil {
		return true
	}
	if key == "" || limit <= 0 || window <= 0 {
		return true
	}
	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	allowed, err := l.script.Run(ctx, l.client, []string{key}, ttl, limit).Int64()
	if err != nil {
		return true
	}
	return allowed == 1
}

// Middleware enforces the per-actor scan budget. Runs after RequireRole so
// the actor identity is already in context.
func Middleware(limiter *RedisLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := middleware.GetActor(r.Context())
			if ok && !limiter.Allow(r.Context(), "scan:"+actor.ActorID, limit, window) {
				logger.WarnContext(r.Context(), "scan rate limit exceeded",
					"actor_id", actor.ActorID,
					"request_id", middleware.GetRequestID(r.Context()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
