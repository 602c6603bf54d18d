package limiter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireBoundsInflight(t *testing.T) {
	a, err := New(context.Background(), Options{MaxInflight: 2})
	require.NoError(t, err)

	r1, err := a.Acquire(context.Background(), "m")
	require.NoError(t, err)
	r2, err := a.Acquire(context.Background(), "M")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx, "m")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "third slot must not be granted")

	r1()
	r3, err := a.Acquire(context.Background(), "m")
	require.NoError(t, err)
	r3()
	r2()
}

func TestAcquireWaitsForRelease(t *testing.T) {
	a, err := New(context.Background(), Options{MaxInflight: 1})
	require.NoError(t, err)

	r1, err := a.Acquire(context.Background(), "m")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r2, err := a.Acquire(context.Background(), "m")
		if err == nil {
			r2()
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	r1()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestModelsHaveSeparateSlots(t *testing.T) {
	a, err := New(context.Background(), Options{MaxInflight: 1})
	require.NoError(t, err)

	_, err = a.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = a.Acquire(ctx, "b")
	assert.NoError(t, err)
}

func TestFailureStreakTripsAtThreshold(t *testing.T) {
	a, err := New(context.Background(), Options{FailureThreshold: 3})
	require.NoError(t, err)

	n, trip := a.recordFailure("m")
	assert.Equal(t, 1, n)
	assert.False(t, trip, "one failed call must not trip the breaker")
	_, trip = a.recordFailure("M")
	assert.False(t, trip)
	_, trip = a.recordFailure("other")
	assert.False(t, trip, "streaks are per model")

	n, trip = a.recordFailure("m")
	assert.Equal(t, 3, n)
	assert.True(t, trip)

	n, trip = a.recordFailure("m")
	assert.Equal(t, 1, n, "tripping restarts the streak")
	assert.False(t, trip)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	a, err := New(context.Background(), Options{FailureThreshold: 2})
	require.NoError(t, err)
	ctx := context.Background()

	a.ReportFailure(ctx, "m")
	a.ReportSuccess(ctx, "m")
	_, trip := a.recordFailure("m")
	assert.False(t, trip)
	_, trip = a.recordFailure("m")
	assert.True(t, trip)
}

func TestDefaultFailureThreshold(t *testing.T) {
	a, err := New(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, a.threshold)
}

func TestBreakerDisabledWithoutRedis(t *testing.T) {
	a, err := New(context.Background(), Options{})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a.ReportFailure(ctx, "m")
	}
	assert.False(t, a.IsOpen(ctx, "m"))
	a.ReportSuccess(ctx, "m")
	assert.NoError(t, a.Ping(ctx))
	assert.Nil(t, a.Redis())
	assert.NoError(t, a.CloseClient())
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	_, err := New(context.Background(), Options{RedisURL: "://nope"})
	assert.Error(t, err)
}

func TestCooldown(t *testing.T) {
	base, ceiling := 30*time.Second, 5*time.Minute
	assert.Equal(t, 30*time.Second, cooldown(base, ceiling, 1))
	assert.Equal(t, 60*time.Second, cooldown(base, ceiling, 2))
	assert.Equal(t, 240*time.Second, cooldown(base, ceiling, 4))
	assert.Equal(t, 5*time.Minute, cooldown(base, ceiling, 5))
	assert.Equal(t, 5*time.Minute, cooldown(base, ceiling, 40))
}

func TestBreakerWithRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	a, err := New(ctx, Options{RedisURL: url, BaseBackoff: time.Minute, FailureThreshold: 2})
	require.NoError(t, err)
	defer a.CloseClient()

	model := "test-" + time.Now().Format("150405.000000")
	assert.False(t, a.IsOpen(ctx, model))
	a.ReportFailure(ctx, model)
	assert.False(t, a.IsOpen(ctx, model), "below threshold")
	a.ReportFailure(ctx, model)
	assert.True(t, a.IsOpen(ctx, model))
	a.ReportSuccess(ctx, model)
	assert.False(t, a.IsOpen(ctx, model))
}
