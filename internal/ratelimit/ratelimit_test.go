package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/reservebill/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateDenied(t *testing.T) {
	result := evaluate(false, 0.5, 0.5, 5)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, time.Second, result.RetryAfter)
}

func TestEvaluateAllowed(t *testing.T) {
	result := evaluate(true, 3.7, 1, 5)
	assert.True(t, result.Allowed)
	assert.Equal(t, 3, result.Remaining)
	assert.Equal(t, 5, result.Limit)
	assert.Zero(t, result.RetryAfter)
}

func TestScriptValueCasting(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(7), castToInt("7"))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, float64(3), castToFloat(int64(3)))
	assert.Zero(t, castToFloat(nil))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(0.5, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestDisabledLimiterAllows(t *testing.T) {
	limiter := NewPublicCheckoutLimiter(nil, config.Config{})
	require.Nil(t, limiter)

	allowed, retry, err := limiter.Allow(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retry)
}

func TestNilLockerRefusesLeases(t *testing.T) {
	var locker *Locker
	assert.NoError(t, locker.unlock(context.Background(), &lease{key: "k", token: "t"}))

	release, ok, err := locker.Acquire(context.Background(), "milestone:1", time.Second)
	assert.ErrorIs(t, err, ErrLockDisabled)
	assert.False(t, ok)
	require.NotNil(t, release)
	release()
}

func TestLockerValidatesLeaseRequest(t *testing.T) {
	locker := &Locker{}
	_, err := locker.lease(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockDisabled)
}
