package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WindowStore counts occurrences per key over a sliding time window.
type WindowStore interface {
	// Add records one occurrence at `at` and returns how many occurrences fall
	// in (at-window, at], this one included.
	Add(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	// Reset forgets every occurrence for key.
	Reset(ctx context.Context, key string) error
}

// MemoryWindow keeps a per-key deque of timestamps. Keys that go quiet are
// removed by GC, which the expiry job drives.
type MemoryWindow struct {
	mu     sync.Mutex
	keys   map[string][]time.Time
	maxAge time.Duration
}

func NewMemoryWindow(maxAge time.Duration) *MemoryWindow {
	return &MemoryWindow{
		keys:   make(map[string][]time.Time),
		maxAge: maxAge,
	}
}

func (w *MemoryWindow) Add(_ context.Context, key string, at time.Time, window time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := at.Add(-window)
	kept := w.keys[key][:0]
	for _, ts := range w.keys[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, at)
	w.keys[key] = kept
	return len(kept), nil
}

func (w *MemoryWindow) Reset(_ context.Context, key string) error {
	w.mu.Lock()
	delete(w.keys, key)
	w.mu.Unlock()
	return nil
}

// GC drops timestamps older than maxAge and empty keys.
func (w *MemoryWindow) GC(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.maxAge)
	for key, times := range w.keys {
		kept := times[:0]
		for _, ts := range times {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(w.keys, key)
		} else {
			w.keys[key] = kept
		}
	}
}

// Len returns the number of tracked keys.
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}

// windowScript trims the sorted set to the window, adds one member and
// returns the resulting cardinality.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 1000)

return redis.call('ZCARD', key)
`)

// RedisWindow shares windows across server replicas.
type RedisWindow struct {
	client *redis.Client
	prefix string
}

func NewRedisWindow(client *redis.Client) *RedisWindow {
	return &RedisWindow{client: client, prefix: "detect:window:"}
}

func (w *RedisWindow) Add(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	count, err := windowScript.Run(
		ctx,
		w.client,
		[]string{w.prefix + key},
		at.UnixMilli(),
		window.Milliseconds(),
		uuid.NewString(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("window add %s: %w", key, err)
	}
	return count, nil
}

func (w *RedisWindow) Reset(ctx context.Context, key string) error {
	if err := w.client.Del(ctx, w.prefix+key).Err(); err != nil {
		return fmt.Errorf("window reset %s: %w", key, err)
	}
	return nil
}
