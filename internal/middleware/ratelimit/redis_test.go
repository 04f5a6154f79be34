package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingLimiter struct {
	limit int64
	seen  map[string]int64
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, int64, error) {
	if l.err != nil {
		return false, 0, l.err
	}
	if l.seen == nil {
		l.seen = make(map[string]int64)
	}
	if l.seen[key] >= l.limit {
		return false, l.seen[key], nil
	}
	l.seen[key]++
	return true, l.seen[key], nil
}

func router(l Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/runs", Middleware(l, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return r
}

func post(r http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runs", nil))
	return w
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	r := router(&countingLimiter{limit: 2})

	assert.Equal(t, http.StatusAccepted, post(r).Code)
	assert.Equal(t, http.StatusAccepted, post(r).Code)

	w := post(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "rate-limited")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	r := router(&countingLimiter{err: errors.New("connection refused")})
	assert.Equal(t, http.StatusAccepted, post(r).Code)
}

func TestRedisLimiterUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	_, _, err := NewRedisLimiter(client, time.Minute, 5).Allow(context.Background(), "10.0.0.1")
	require.Error(t, err)
}
