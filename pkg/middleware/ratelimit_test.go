package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("client"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("client"))

	// Other keys have their own bucket
	assert.True(t, rl.Allow("other"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Millisecond,
		BurstSize:         0,
	})
	rl.Allow("stale")

	time.Sleep(5 * time.Millisecond)
	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.buckets)
}

func TestRateLimitMiddleware(t *testing.T) {
	m := NewRateLimitMiddleware(&RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})
	handler := m.Handler(okHandler())

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/sso/okta/login", nil)
		req.RemoteAddr = "203.0.113.9:51000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))

	do()
	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestDistributedRateLimiter(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	rl := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "test")

	allowed, err := rl.Allow(ctx, "ip:203.0.113.9")
	require.NoError(t, err)
	assert.True(t, allowed)

	remaining, err := rl.Remaining(ctx, "ip:203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	_, err = rl.Allow(ctx, "ip:203.0.113.9")
	require.NoError(t, err)

	allowed, err = rl.Allow(ctx, "ip:203.0.113.9")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, rl.Reset(ctx, "ip:203.0.113.9"))
	allowed, err = rl.Allow(ctx, "ip:203.0.113.9")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	do := func(handler http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/sso/okta/login", nil)
		req.RemoteAddr = "203.0.113.9:51000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("limits across requests", func(t *testing.T) {
		client := newTestRedis(t)
		m := NewDistributedRateLimitMiddleware(client, &RateLimitConfig{
			RequestsPerWindow: 1,
			WindowDuration:    time.Minute,
		}, "test", false, testLogger())
		handler := m.Handler(okHandler())

		assert.Equal(t, http.StatusOK, do(handler).Code)
		assert.Equal(t, http.StatusTooManyRequests, do(handler).Code)
	})

	t.Run("fails closed when redis is down", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
		m := NewDistributedRateLimitMiddleware(client, nil, "test", false, testLogger())
		rec := do(m.Handler(okHandler()))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("fails open when configured", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
		m := NewDistributedRateLimitMiddleware(client, nil, "test", true, testLogger())
		rec := do(m.Handler(okHandler()))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health check", func(t *testing.T) {
		client := newTestRedis(t)
		m := NewDistributedRateLimitMiddleware(client, nil, "test", false, testLogger())
		assert.NoError(t, m.HealthCheck(context.Background()))
	})
}
