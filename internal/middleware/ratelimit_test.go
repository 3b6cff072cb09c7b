package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limiters(t *testing.T) map[string]Limiter {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Limiter{
		"memory": NewMemoryRateLimiter(),
		"redis":  NewRedisRateLimiter(client),
	}
}

func TestLimiter(t *testing.T) {
	ctx := context.Background()
	for name, limiter := range limiters(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("allows requests under limit", func(t *testing.T) {
				for i := 0; i < 5; i++ {
					allowed, remaining, _ := limiter.Check(ctx, "under", 10)
					assert.True(t, allowed)
					assert.Equal(t, 10-i-1, remaining)
				}
			})

			t.Run("blocks requests over limit", func(t *testing.T) {
				for i := 0; i < 5; i++ {
					limiter.Check(ctx, "over", 5)
				}
				allowed, remaining, resetAt := limiter.Check(ctx, "over", 5)
				assert.False(t, allowed)
				assert.Equal(t, 0, remaining)
				assert.GreaterOrEqual(t, resetAt, time.Now().Unix())
			})

			t.Run("tracks keys separately", func(t *testing.T) {
				for i := 0; i < 5; i++ {
					limiter.Check(ctx, "key-a", 5)
				}
				allowed, _, _ := limiter.Check(ctx, "key-b", 5)
				assert.True(t, allowed)
			})
		})
	}
}

func TestMemoryRateLimiter_WindowSlides(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, _ := limiter.Check(ctx, "k", 3)
		require.True(t, allowed)
	}
	allowed, _, _ := limiter.Check(ctx, "k", 3)
	assert.False(t, allowed)

	now = now.Add(windowDuration + time.Second)
	allowed, _, _ = limiter.Check(ctx, "k", 3)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter := NewRedisRateLimiter(client)
	mr.Close()

	allowed, remaining, _ := limiter.Check(context.Background(), "k", 5)
	assert.True(t, allowed)
	assert.Equal(t, 4, remaining)
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	request := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/cheating-events", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("sets headers and rejects over limit", func(t *testing.T) {
		h := NewRateLimitMiddleware(NewMemoryRateLimiter(), 2, ByClientIP("events")).Handler(ok)

		rec := request(h)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

		request(h)
		rec = request(h)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("limited handler replaces the 429", func(t *testing.T) {
		silent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
		h := NewRateLimitMiddleware(NewMemoryRateLimiter(), 1, ByClientIP("events")).
			WithLimitedHandler(silent).Handler(ok)

		request(h)
		rec := request(h)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("interviewer key uses identity", func(t *testing.T) {
		key := ByInterviewer("api")
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.1:1"
		assert.Equal(t, "api:ip:198.51.100.1", key(req))

		req = req.WithContext(WithIdentity(req.Context(), &Identity{InterviewerID: "alice"}))
		assert.Equal(t, "api:interviewer:alice", key(req))
	})
}
