// Package ratelimit throttles gas-spending requests per client with a Redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, count int64, err error)
}

// RedisLimiter is a distributed sliding window shared by every replica.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	limit  int
	prefix string
}

// NewRedisLimiter allows limit requests per window for each key.
func NewRedisLimiter(client *redis.Client, window time.Duration, limit int) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, limit: limit, prefix: "layerinfer:ratelimit:"}
}

// Uses a sorted set per key, with Lua for atomicity
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count + 1 > limit then
  return {0, count}
end
redis.call('ZADD', key, now, now)
redis.call('PEXPIRE', key, math.ceil(window/1000000))
return {1, count + 1}
`)

// Allow records one request for key if the window has room.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	now := time.Now().UnixNano()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + key}, now, l.window.Nanoseconds(), l.limit).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return false, 0, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	return allowed == 1, count, nil
}

// Middleware rejects requests over the limit with 429. The key is the client IP. When the
// limiter itself fails the request is let through and the failure logged.
func Middleware(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, count, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Count", strconv.FormatInt(count, 10))
		if !allowed {
			problem := errors.NewProblemDetails(errors.TypeRateLimited, errors.TitleRateLimited,
				http.StatusTooManyRequests, "too many inference runs, try again later", c.Request.URL.Path)
			c.Header("Content-Type", "application/problem+json")
			c.AbortWithStatusJSON(problem.Status, problem)
			return
		}
		c.Next()
	}
}
