// Package gateway provides API gateway functionality including rate limiting
// and CORS
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lvonguyen/threatboard/internal/observability"
)

// Limiter backends, reported in results and metrics.
const (
	BackendRedis = "redis"
	BackendLocal = "local"
)

// RateLimiter limits requests per client. Counters live in Redis so every
// replica shares them; when Redis is absent or failing, a per-process token
// bucket takes over.
type RateLimiter struct {
	redis       *redis.Client
	logger      *zap.Logger
	metrics     *observability.Metrics
	config      RateLimitConfig
	localLimits sync.Map // client id -> *rate.Limiter
	script      *redis.Script
}

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	RequestsPerSecond int
	RequestsPerMinute int
	BurstSize         int
	IncludeHeaders    bool
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	Backend    string
	Reason     string
}

var windowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return {current, redis.call('PTTL', KEYS[1])}
`)

// NewRateLimiter creates a new rate limiter. redisClient may be nil.
func NewRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger, metrics *observability.Metrics) *RateLimiter {
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 300
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		redis:   redisClient,
		logger:  logger,
		metrics: metrics,
		config:  cfg,
		script:  windowScript,
	}
}

// Check performs a rate limit check for one request of clientID.
func (rl *RateLimiter) Check(ctx context.Context, clientID string) *RateLimitResult {
	if rl.redis != nil {
		result, err := rl.checkRedis(ctx, clientID)
		if err == nil {
			return result
		}
		rl.logger.Warn("Rate limit check failed, using local limiter", zap.Error(err))
	}
	return rl.checkLocal(clientID)
}

func (rl *RateLimiter) checkRedis(ctx context.Context, clientID string) (*RateLimitResult, error) {
	key := "threatboard:ratelimit:" + clientID + ":minute"
	now := time.Now()

	vals, err := rl.script.Run(ctx, rl.redis, []string{key}, 60000).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, redis.Nil
	}
	count, ttlMillis := int(vals[0]), vals[1]
	ttl := time.Duration(ttlMillis) * time.Millisecond
	if ttl < 0 {
		ttl = time.Minute
	}

	limit := rl.config.RequestsPerMinute
	result := &RateLimitResult{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		Limit:     limit,
		ResetAt:   now.Add(ttl),
		Backend:   BackendRedis,
	}
	if !result.Allowed {
		result.RetryAfter = ttl
		result.Reason = "Rate limit exceeded"
	}
	return result, nil
}

func (rl *RateLimiter) checkLocal(clientID string) *RateLimitResult {
	v, _ := rl.localLimits.LoadOrStore(clientID,
		rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize))
	limiter := v.(*rate.Limiter)

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)

	result := &RateLimitResult{
		Allowed: delay == 0,
		Limit:   rl.config.BurstSize,
		ResetAt: now.Add(delay),
		Backend: BackendLocal,
	}
	if !result.Allowed {
		reservation.CancelAt(now)
		result.RetryAfter = delay
		result.Reason = "Rate limit exceeded"
	}
	result.Remaining = max(int(limiter.TokensAt(now)), 0)
	return result
}

// Middleware returns an HTTP middleware for rate limiting. getClientID may
// return "" to fall back to the client IP.
func (rl *RateLimiter) Middleware(getClientID func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if getClientID != nil {
				clientID = getClientID(r)
			}
			if clientID == "" {
				clientID = getClientIP(r)
			}

			result := rl.Check(r.Context(), clientID)

			if rl.config.IncludeHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				rl.metrics.ObserveRateLimited(result.Backend)
				retryAfter := max(int((result.RetryAfter + time.Second - 1) / time.Second), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":       "rate_limit_exceeded",
					"message":     result.Reason,
					"retry_after": retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
