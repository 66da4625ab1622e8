package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiter_FirstCallDoesNotWait(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, 2*time.Hour)

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSimpleRateLimiter_SpacesCalls(t *testing.T) {
	limiter := NewSimpleRateLimiter(30*time.Millisecond, 40*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))
	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSimpleRateLimiter_CancelledWait(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdaptiveRateLimiter_BacksOffAndRecovers(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

	for i := 0; i < 3; i++ {
		limiter.RecordError()
	}
	minDelay, maxDelay := limiter.Delays()
	assert.Equal(t, 3*time.Second, minDelay)
	assert.Equal(t, 6*time.Second, maxDelay)

	for i := 0; i < 60; i++ {
		limiter.RecordSuccess()
	}
	minDelay, maxDelay = limiter.Delays()
	assert.Equal(t, 2*time.Second, minDelay, "never faster than configured")
	assert.Equal(t, 4*time.Second, maxDelay)
}

func TestAdaptiveRateLimiter_CapsBackoff(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(50*time.Second, 100*time.Second)

	for i := 0; i < 30; i++ {
		limiter.RecordError()
	}
	minDelay, maxDelay := limiter.Delays()
	assert.Equal(t, 60*time.Second, minDelay)
	assert.Equal(t, 120*time.Second, maxDelay)
}
