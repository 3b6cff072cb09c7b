package detection

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func exerciseWindow(t *testing.T, w WindowStore) {
	ctx := context.Background()
	win := 10 * time.Second

	n, err := w.Add(ctx, "k", t0, win)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.Add(ctx, "k", t0.Add(4*time.Second), win)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.Add(ctx, "other", t0.Add(5*time.Second), win)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "keys are independent")

	// t0 falls out of the window exactly at t0+10s.
	n, err = w.Add(ctx, "k", t0.Add(10*time.Second), win)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, w.Reset(ctx, "k"))
	n, err = w.Add(ctx, "k", t0.Add(11*time.Second), win)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryWindow(t *testing.T) {
	exerciseWindow(t, NewMemoryWindow(time.Minute))
}

func TestRedisWindow(t *testing.T) {
	exerciseWindow(t, NewRedisWindow(newTestRedis(t)))
}

func TestMemoryWindow_GC(t *testing.T) {
	w := NewMemoryWindow(time.Minute)
	ctx := context.Background()

	_, _ = w.Add(ctx, "old", t0, time.Minute)
	_, _ = w.Add(ctx, "fresh", t0.Add(90*time.Second), time.Minute)
	assert.Equal(t, 2, w.Len())

	w.GC(t0.Add(2 * time.Minute))
	assert.Equal(t, 1, w.Len())
}

func TestThrottle(t *testing.T) {
	mem, err := NewMemoryThrottle(16)
	require.NoError(t, err)

	impls := map[string]Throttle{
		"memory": mem,
		"redis":  NewRedisThrottle(newTestRedis(t)),
	}
	for name, th := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := th.Allow(ctx, "alert:s1", t0, 10*time.Second)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = th.Allow(ctx, "alert:s1", t0.Add(time.Second), 10*time.Second)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = th.Allow(ctx, "alert:s2", t0.Add(time.Second), 10*time.Second)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}

	t.Run("memory admits again after the interval", func(t *testing.T) {
		ok, _ := mem.Allow(context.Background(), "alert:s1", t0.Add(10*time.Second), 10*time.Second)
		assert.True(t, ok)
	})
}
