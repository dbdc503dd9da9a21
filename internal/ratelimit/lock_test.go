package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsightLockKey(t *testing.T) {
	assert.Equal(t, "lumen:insight:user-1", InsightLockKey("user-1"))
}

func TestMemoryLockerExclusive(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lumen:insight:user-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "lumen:insight:user-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Another user's key is independent.
	_, ok, err = locker.TryLock(ctx, "lumen:insight:user-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locker.Release(ctx, "lumen:insight:user-1", token))
	_, ok, err = locker.TryLock(ctx, "lumen:insight:user-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerReleaseNeedsMatchingToken(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "k", "stale-token"))
	_, ok, err = locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "stale token must not release the lock")

	require.NoError(t, locker.Release(ctx, "k", token))
}

func TestMemoryLockerExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok, err = locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be reclaimable")
}
