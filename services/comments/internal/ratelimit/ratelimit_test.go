package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

// failingStore fails every call and counts attempts.
type failingStore struct {
	calls atomic.Int32
}

func (s *failingStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	s.calls.Add(1)
	return 0, 0, errors.New("dial tcp 10.0.0.1:6379: connect: connection refused")
}

// ---------------------------------------------------------------------------
// RedisStore
// ---------------------------------------------------------------------------

func TestRedisStore_Increment(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	count, ttl, err := store.Increment(ctx, "k", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.InDelta(t, (15 * time.Minute).Seconds(), ttl.Seconds(), 1)

	count, _, err = store.Increment(ctx, "k", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, mr.Exists("k"))
}

func TestRedisStore_WindowExpires(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	_, _, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)

	count, _, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, _, err := store.Increment(context.Background(), "k", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis increment")
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_WindowResets(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	count, ttl, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)

	now = now.Add(20 * time.Second)
	count, ttl, _ = store.Increment(ctx, "k", time.Minute)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 40*time.Second, ttl)

	now = now.Add(40 * time.Second)
	count, ttl, _ = store.Increment(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)
}

func TestMemoryStore_SweepsExpiredKeys(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, _, _ = store.Increment(ctx, k, time.Minute)
	}
	assert.Equal(t, 3, store.len())

	now = now.Add(2 * time.Minute)
	_, _, _ = store.Increment(ctx, "d", time.Minute)
	assert.Equal(t, 1, store.len())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = store.Increment(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	count, _, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(51), count)
}

// ---------------------------------------------------------------------------
// Limiter
// ---------------------------------------------------------------------------

func TestLimiter_LimitsAfterMax(t *testing.T) {
	store, _ := setupRedisStore(t)
	l := NewLimiter(store, Config{Window: 15 * time.Minute, Max: 5}, testLogger())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.False(t, res.Limited, "submission %d", i)
		assert.Equal(t, 5-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Limited)
	assert.Equal(t, 0, res.Remaining)
	assert.InDelta(t, 900, res.RetryAfterSeconds, 2)

	other, err := l.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, other.Limited)
	assert.Equal(t, "redis", l.Backend())
}

func TestLimiter_UsesPrefixedKeys(t *testing.T) {
	store, mr := setupRedisStore(t)
	l := NewLimiter(store, DefaultConfig(), testLogger())

	_, err := l.Allow(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, mr.Exists("comments:ratelimit:203.0.113.7"))
}

func TestLimiter_FallsBackPermanently(t *testing.T) {
	primary := &failingStore{}
	l := NewLimiter(primary, Config{Window: time.Minute, Max: 2}, testLogger())
	ctx := context.Background()

	before := counterValue(t, fallbackActivations)

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
	}
	res, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Limited)

	assert.Equal(t, int32(1), primary.calls.Load(), "primary must not be retried after the first failure")
	assert.True(t, l.Degraded())
	assert.Equal(t, "memory", l.Backend())
	assert.Equal(t, before+1, counterValue(t, fallbackActivations))
}

func TestLimiter_ConcurrentFailuresSwitchOnce(t *testing.T) {
	primary := &failingStore{}
	l := NewLimiter(primary, Config{Window: time.Minute, Max: 100}, testLogger())
	before := counterValue(t, fallbackActivations)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Allow(context.Background(), "203.0.113.7")
		}()
	}
	wg.Wait()

	assert.Equal(t, before+1, counterValue(t, fallbackActivations))
}

func TestLimiter_NilPrimaryUsesMemory(t *testing.T) {
	l := NewLimiter(nil, Config{}, testLogger())

	assert.Equal(t, "memory", l.Backend())
	assert.False(t, l.Degraded())

	res, err := l.Allow(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Max-1, res.Remaining)
}
