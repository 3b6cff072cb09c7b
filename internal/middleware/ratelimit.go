package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/audit"
	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/httputil"
)

const (
	maxEntries      = 10000
	cleanupInterval = time.Minute
	entryTTL        = 5 * time.Minute
	windowDuration  = time.Minute
)

// Limiter is a sliding one-minute window keyed by caller.
type Limiter interface {
	Check(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64)
}

type rateLimitEntry struct {
	timestamps []time.Time
	lastAccess time.Time
}

// MemoryRateLimiter is the single-instance Limiter.
type MemoryRateLimiter struct {
	mu          sync.Mutex
	store       map[string]*rateLimitEntry
	lastCleanup time.Time
	now         func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		store:       make(map[string]*rateLimitEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (rl *MemoryRateLimiter) cleanup(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}
	rl.lastCleanup = now

	for key, entry := range rl.store {
		if now.Sub(entry.lastAccess) > entryTTL {
			delete(rl.store, key)
		}
	}

	if len(rl.store) > maxEntries {
		excess := len(rl.store) - maxEntries
		for key := range rl.store {
			if excess == 0 {
				break
			}
			delete(rl.store, key)
			excess--
		}
	}
}

func (rl *MemoryRateLimiter) Check(_ context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanup(now)
	windowStart := now.Add(-windowDuration)

	entry, exists := rl.store[key]
	if !exists {
		entry = &rateLimitEntry{}
		rl.store[key] = entry
	}
	entry.lastAccess = now

	filtered := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			filtered = append(filtered, ts)
		}
	}
	entry.timestamps = filtered

	remaining = max(limit-len(entry.timestamps), 0)

	if len(entry.timestamps) > 0 {
		resetAt = entry.timestamps[0].Add(windowDuration).Unix()
	} else {
		resetAt = now.Add(windowDuration).Unix()
	}

	if len(entry.timestamps) >= limit {
		return false, 0, resetAt
	}

	entry.timestamps = append(entry.timestamps, now)
	return true, remaining - 1, resetAt
}

// KeyFunc derives the rate-limit bucket for a request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// ByClientIP buckets by the request's network origin.
func ByClientIP(prefix string) KeyFunc {
	return func(r *http.Request) string {
		return prefix + ":" + httputil.ClientIP(r)
	}
}

// ByInterviewer buckets authenticated interviewers, falling back to the
// client IP for anonymous callers.
func ByInterviewer(prefix string) KeyFunc {
	return func(r *http.Request) string {
		if id := GetIdentity(r.Context()); id != nil {
			return prefix + ":interviewer:" + id.InterviewerID
		}
		return prefix + ":ip:" + httputil.ClientIP(r)
	}
}

type RateLimitMiddleware struct {
	limiter Limiter
	limit   int
	key     KeyFunc
	// onLimited replaces the default 429 response when set.
	onLimited http.Handler
}

func NewRateLimitMiddleware(limiter Limiter, limit int, key KeyFunc) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, limit: limit, key: key}
}

// WithLimitedHandler serves h instead of a 429 when the limit is hit.
func (m *RateLimitMiddleware) WithLimitedHandler(h http.Handler) *RateLimitMiddleware {
	m.onLimited = h
	return m
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), key, m.limit)
		if allowed {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
			next.ServeHTTP(w, r)
			return
		}

		log.Warn().Str("key", key).Msg("rate limit exceeded")
		audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed})

		if m.onLimited != nil {
			m.onLimited.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "60")
		httputil.WriteError(w, apperrors.RateLimitExceeded())
	})
}
