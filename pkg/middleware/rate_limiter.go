package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// tokenBucketScript refills KEYS[1] at ARGV[1] tokens/s up to ARGV[2] and
// takes one token if available. Returns {allowed, remaining}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

tokens = math.min(burst, tokens + math.max(0, now - last_update) * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_update", tostring(now))
redis.call("EXPIRE", key, math.ceil(burst / rate) + 1)
return {allowed, math.floor(tokens)}
`)

// RateLimitClient is the subset of go-redis the limiter needs
type RateLimitClient interface {
	redis.Scripter
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Redis RateLimitClient
	// RequestsPerSecond is the refill rate per key
	RequestsPerSecond int
	// Burst is the bucket capacity
	Burst     int
	KeyPrefix string
	// KeyFunc picks the bucket for a request. Defaults to X-User-ID, then client IP.
	KeyFunc func(c *gin.Context) string
	// Now is overridable for tests
	Now func() time.Time
}

// DefaultRateLimitConfig returns default configuration
func DefaultRateLimitConfig(client RateLimitClient) *RateLimitConfig {
	return &RateLimitConfig{
		Redis:             client,
		RequestsPerSecond: 5,
		Burst:             10,
		KeyPrefix:         "ratelimit:",
	}
}

// RedisRateLimiter is a token bucket shared by every API replica
type RedisRateLimiter struct {
	config *RateLimitConfig
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(config *RateLimitConfig) *RedisRateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = config.RequestsPerSecond
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit:"
	}
	if config.KeyFunc == nil {
		config.KeyFunc = userOrIP
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RedisRateLimiter{config: config}
}

// Allow takes a token from key's bucket
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	now := float64(rl.config.Now().UnixNano()) / 1e9
	values, err := tokenBucketScript.Run(ctx, rl.config.Redis,
		[]string{rl.config.KeyPrefix + key},
		rl.config.RequestsPerSecond, rl.config.Burst, strconv.FormatFloat(now, 'f', 6, 64),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(values) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit result length: %d", len(values))
	}
	return values[0] == 1, values[1], nil
}

// RateLimiter rejects requests over the per-key rate with 429. Redis errors
// fail open.
func RateLimiter(config *RateLimitConfig) gin.HandlerFunc {
	limiter := NewRedisRateLimiter(config)

	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "middleware.rate_limiter")
		defer span.End()

		key := config.KeyFunc(c)
		span.SetAttributes(attribute.String("ratelimit.key", key))

		allowed, remaining, err := limiter.Allow(ctx, key)
		if err != nil {
			logger.Get().WarnContext(ctx, "Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}
		span.SetAttributes(attribute.Bool("allowed", allowed))

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerSecond))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			span.SetStatus(codes.Error, "rate limit exceeded")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				response.ErrorBody("TOO_MANY_REQUESTS", "Rate limit exceeded. Please retry after 1 second(s)."))
			return
		}
		c.Next()
	}
}

func userOrIP(c *gin.Context) string {
	if userID := c.GetHeader("X-User-ID"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}
