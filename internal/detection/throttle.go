package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Throttle admits at most one event per key per interval.
type Throttle interface {
	Allow(ctx context.Context, key string, at time.Time, every time.Duration) (bool, error)
}

// MemoryThrottle remembers the last admitted time for a bounded number of
// keys.
type MemoryThrottle struct {
	mu   sync.Mutex
	last *lru.Cache[string, time.Time]
}

func NewMemoryThrottle(size int) (*MemoryThrottle, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("throttle cache: %w", err)
	}
	return &MemoryThrottle{last: cache}, nil
}

func (t *MemoryThrottle) Allow(_ context.Context, key string, at time.Time, every time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.last.Get(key); ok && at.Sub(prev) < every {
		return false, nil
	}
	t.last.Add(key, at)
	return true, nil
}

// RedisThrottle admits the first caller to create the key; the key expires
// after the interval.
type RedisThrottle struct {
	client *redis.Client
	prefix string
}

func NewRedisThrottle(client *redis.Client) *RedisThrottle {
	return &RedisThrottle{client: client, prefix: "detect:throttle:"}
}

func (t *RedisThrottle) Allow(ctx context.Context, key string, at time.Time, every time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+key, at.UnixMilli(), every).Result()
	if err != nil {
		return false, fmt.Errorf("throttle %s: %w", key, err)
	}
	return ok, nil
}
