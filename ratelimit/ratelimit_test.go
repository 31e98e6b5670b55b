package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOptions = Options{
	Name:          "login",
	Points:        3,
	Duration:      time.Hour,
	BlockDuration: 15 * time.Minute,
}

// limiterTests runs the shared Limiter contract against any implementation.
func limiterTests(t *testing.T, newLimiter func(Options) Limiter) {
	ctx := context.Background()

	t.Run("GetMissingIsNil", func(t *testing.T) {
		l := newLimiter(testOptions)
		st, err := l.Get(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("ConsumeCountsDown", func(t *testing.T) {
		l := newLimiter(testOptions)
		for i := 1; i <= 3; i++ {
			st, err := l.Consume(ctx, "a@example.com")
			require.NoError(t, err)
			assert.Equal(t, i, st.Consumed)
			assert.Equal(t, 3-i, st.Remaining)
			assert.Greater(t, st.ResetAfter, time.Duration(0))
		}
		st, err := l.Get(ctx, "a@example.com")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.True(t, st.Exhausted())
	})

	t.Run("ConsumeRejectsAndBlocks", func(t *testing.T) {
		l := newLimiter(testOptions)
		for range 3 {
			_, err := l.Consume(ctx, "b@example.com")
			require.NoError(t, err)
		}
		_, err := l.Consume(ctx, "b@example.com")
		rej, ok := IsRejected(err)
		require.True(t, ok, "expected rejection, got %v", err)
		assert.LessOrEqual(t, rej.RetryAfter, 15*time.Minute)
		assert.Greater(t, rej.RetryAfter, 14*time.Minute)
		assert.True(t, rej.Exhausted())
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		l := newLimiter(testOptions)
		for range 4 {
			l.Consume(ctx, "c@example.com") //nolint:errcheck
		}
		st, err := l.Consume(ctx, "d@example.com")
		require.NoError(t, err)
		assert.Equal(t, 2, st.Remaining)
	})

	t.Run("LimitersAreIndependent", func(t *testing.T) {
		login := newLimiter(testOptions)
		other := newLimiter(Options{Name: "verify_code", Points: 3, Duration: time.Hour})
		for range 4 {
			login.Consume(ctx, "e@example.com") //nolint:errcheck
		}
		st, err := other.Get(ctx, "e@example.com")
		require.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("DeleteResets", func(t *testing.T) {
		l := newLimiter(testOptions)
		for range 4 {
			l.Consume(ctx, "f@example.com") //nolint:errcheck
		}
		require.NoError(t, l.Delete(ctx, "f@example.com"))
		st, err := l.Get(ctx, "f@example.com")
		require.NoError(t, err)
		assert.Nil(t, st)

		_, err = l.Consume(ctx, "f@example.com")
		assert.NoError(t, err)
	})

	t.Run("BlockZeroExhaustsExisting", func(t *testing.T) {
		l := newLimiter(testOptions)
		_, err := l.Consume(ctx, "g@example.com")
		require.NoError(t, err)
		require.NoError(t, l.Block(ctx, "g@example.com", 0))

		st, err := l.Get(ctx, "g@example.com")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.True(t, st.Exhausted())
		assert.Greater(t, st.ResetAfter, 59*time.Minute)

		_, err = l.Consume(ctx, "g@example.com")
		_, rejected := IsRejected(err)
		assert.True(t, rejected)
	})

	t.Run("BlockZeroWithoutCounter", func(t *testing.T) {
		l := newLimiter(testOptions)
		require.NoError(t, l.Block(ctx, "h@example.com", 0))
		st, err := l.Get(ctx, "h@example.com")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.True(t, st.Exhausted())
	})

	t.Run("BlockDuration", func(t *testing.T) {
		l := newLimiter(testOptions)
		require.NoError(t, l.Block(ctx, "i@example.com", 2*time.Minute))
		st, err := l.Get(ctx, "i@example.com")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.True(t, st.Exhausted())
		assert.LessOrEqual(t, st.ResetAfter, 2*time.Minute)
	})
}

func TestMemoryLimiter(t *testing.T) {
	limiterTests(t, func(o Options) Limiter { return NewMemory(o) })
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiterTests(t, func(o Options) Limiter {
		mr.FlushAll()
		return NewRedis(client, o)
	})
}

func TestMemoryLimiterWindowExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(testOptions)
	l.now = func() time.Time { return now }

	for range 3 {
		_, err := l.Consume(ctx, "k")
		require.NoError(t, err)
	}
	now = now.Add(time.Hour)
	st, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, st)

	st2, err := l.Consume(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, st2.Consumed)
}

func TestMemoryLimiterBlockOutlastsWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := Options{Points: 1, Duration: time.Minute, BlockDuration: time.Hour}
	l := NewMemory(opts)
	l.now = func() time.Time { return now }

	_, err := l.Consume(ctx, "k")
	require.NoError(t, err)
	_, err = l.Consume(ctx, "k")
	rej, ok := IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, rej.RetryAfter)

	// Further rejections do not extend the block.
	now = now.Add(10 * time.Minute)
	_, err = l.Consume(ctx, "k")
	rej, ok = IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, 50*time.Minute, rej.RetryAfter)
}

func TestMemoryLimiterSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(testOptions)
	l.now = func() time.Time { return now }

	l.Consume(ctx, "a") //nolint:errcheck
	l.Consume(ctx, "b") //nolint:errcheck
	now = now.Add(2 * time.Hour)
	l.Sweep()
	assert.Empty(t, l.counters)
}

func TestRedisLimiterWindowExpires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedis(client, testOptions)

	_, err := l.Consume(ctx, "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ratelimit:login:k"))

	mr.FastForward(time.Hour + time.Second)
	st, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRedisLimiterUnavailable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	l := NewRedis(client, testOptions)
	mr.Close()

	_, err := l.Consume(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = l.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}
