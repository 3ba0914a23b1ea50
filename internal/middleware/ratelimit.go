package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nibras-backend/internal/metrics"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

type visitor struct {
	count       int64
	windowStart time.Time
}

// MemoryLimiter is a single-process fixed window limiter.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int64
	window   time.Duration
}

func NewMemoryLimiter(limit int64, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
	}
}

// Cleanup evicts expired windows until ctx is done.
func (l *MemoryLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *MemoryLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.windowStart) >= l.window {
			delete(l.visitors, key)
		}
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[key]
	if !exists || now.Sub(v.windowStart) >= l.window {
		v = &visitor{windowStart: now}
		l.visitors[key] = v
	}
	v.count++

	return Decision{
		Allowed: v.count <= l.limit,
		Used:    v.count,
		Limit:   l.limit,
		ResetAt: v.windowStart.Add(l.window),
	}, nil
}

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RedisLimiter shares windows across replicas. Windows are aligned to
// multiples of the window length so every replica agrees on the key.
type RedisLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{redis: rdb, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	windowStart := now.UTC().Truncate(l.window)
	windowEnd := windowStart.Add(l.window)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	redisKey := fmt.Sprintf("nibras:ratelimit:%s:%d", key, windowStart.Unix())
	used, err := incrWithTTLScript.Run(ctx, l.redis, []string{redisKey}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	return Decision{Allowed: used <= l.limit, Used: used, Limit: l.limit, ResetAt: windowEnd}, nil
}

// RateLimit keys on the verified subject when present, else the client IP.
// Limiter failures let the request through.
func RateLimit(l Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := l.Allow(r.Context(), RateLimitKey(r), now)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			remaining := d.Limit - d.Used
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !d.Allowed {
				retryAfter := int64(d.ResetAt.Sub(now).Seconds() + 0.999)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				if m != nil {
					m.RateLimited.Inc()
				}
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitKey buckets a request by verified subject, falling back to the
// client address.
func RateLimitKey(r *http.Request) string {
	if subject := GetSubject(r.Context()); subject != "" {
		return "sub:" + subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
