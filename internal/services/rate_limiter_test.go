package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/coin-market-api/internal/models"
)

func TestCheckWithoutSnapshotDenies(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "alice", 10)

	allowed, err := h.limiter.Check(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckDeactivatesAtLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 3)
	h.login(t, "alice", secret)

	for i := 0; i < 3; i++ {
		allowed, err := h.limiter.Check(ctx, "alice")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be allowed", i+1)
		_, err = h.limiter.Increment(ctx, "alice")
		require.NoError(t, err)
	}

	allowed, err := h.limiter.Check(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.False(t, h.snapshot(t, "alice").IsActive)
}

func TestDeactivationKeepsSnapshotTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 1)
	h.login(t, "alice", secret)
	_, err := h.limiter.Increment(ctx, "alice")
	require.NoError(t, err)

	h.mr.FastForward(time.Minute)
	allowed, err := h.limiter.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, allowed)
	assert.Equal(t, testSnapshotTTL-time.Minute, h.mr.TTL(authKey("alice")))
}

func TestIncrementSetsDailyExpiryOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n, err := h.limiter.Increment(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, testUsageTTL, h.mr.TTL(usageKey("alice")))

	h.mr.FastForward(time.Hour)
	n, err = h.limiter.Increment(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, testUsageTTL-time.Hour, h.mr.TTL(usageKey("alice")))
}

func TestResetAllRestoresExhaustedKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 2)
	h.seed(t, "bob", 2)
	h.login(t, "alice", secret)

	for i := 0; i < 2; i++ {
		_, err := h.limiter.Increment(ctx, "alice")
		require.NoError(t, err)
	}
	_, err := h.limiter.Increment(ctx, "bob")
	require.NoError(t, err)

	n, err := h.limiter.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	allowed, err := h.limiter.Check(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, testUsageTTL, h.mr.TTL(usageKey("alice")))

	// idempotent
	n, err = h.limiter.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	used, err := h.limiter.Usage(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestTouchStampsSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 5)
	h.login(t, "alice", secret)

	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.limiter.Touch(ctx, "alice", at))

	snap := h.snapshot(t, "alice")
	require.NotNil(t, snap.LastRequestAt)
	assert.True(t, at.Equal(*snap.LastRequestAt))

	// expired snapshot: nothing to stamp, nothing recreated
	require.NoError(t, h.limiter.Touch(ctx, "nobody", at))
	assert.False(t, h.mr.Exists(authKey("nobody")))
}

func TestCheckFailsClosedOnCorruptCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 5)
	h.login(t, "alice", secret)
	h.mr.Set(usageKey("alice"), "lots")

	allowed, err := h.limiter.Check(ctx, "alice")
	assert.False(t, allowed)
	assert.ErrorIs(t, err, models.ErrCorrupt)
}

func TestCheckFailsClosedWhenCacheDown(t *testing.T) {
	h := newHarness(t)
	secret := h.seed(t, "alice", 5)
	h.login(t, "alice", secret)
	h.mr.Close()

	allowed, err := h.limiter.Check(context.Background(), "alice")
	assert.False(t, allowed)
	assert.ErrorIs(t, err, models.ErrCacheUnavailable)
}

func TestConcurrentChecksAtLimitAllDeny(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 5)
	h.login(t, "alice", secret)

	for i := 0; i < 5; i++ {
		_, err := h.limiter.Increment(ctx, "alice")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := h.limiter.Check(ctx, "alice")
			assert.NoError(t, err)
			assert.False(t, allowed)
		}()
	}
	wg.Wait()
	assert.False(t, h.snapshot(t, "alice").IsActive)
}

// racingCache runs interfere once, after the first compare-and-set has
// computed its new value and before it is written.
type racingCache struct {
	Cache
	once      sync.Once
	interfere func()
}

func (c *racingCache) Update(ctx context.Context, key string, fn func(string) (string, error), watch ...string) error {
	return c.Cache.Update(ctx, key, func(current string) (string, error) {
		next, err := fn(current)
		c.once.Do(c.interfere)
		return next, err
	}, watch...)
}

func TestTouchPreservesConcurrentDeactivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t, "alice", h.seed(t, "alice", 5))

	racing := &racingCache{Cache: h.cache, interfere: func() {
		snap := h.snapshot(t, "alice")
		snap.IsActive = false
		payload, err := snap.Encode()
		require.NoError(t, err)
		require.NoError(t, h.cache.Set(ctx, authKey("alice"), payload, testSnapshotTTL))
	}}
	limiter := NewRateLimiter(racing, testUsageTTL)

	at := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	require.NoError(t, limiter.Touch(ctx, "alice", at))

	snap := h.snapshot(t, "alice")
	assert.False(t, snap.IsActive, "stamp must not reactivate the key")
	require.NotNil(t, snap.LastRequestAt)
	assert.True(t, at.Equal(*snap.LastRequestAt))
}

func TestDeactivationYieldsToConcurrentReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t, "alice", h.seed(t, "alice", 1))
	_, err := h.limiter.Increment(ctx, "alice")
	require.NoError(t, err)

	racing := &racingCache{Cache: h.cache, interfere: func() {
		_, err := h.limiter.ResetAll(ctx)
		require.NoError(t, err)
	}}
	limiter := NewRateLimiter(racing, testUsageTTL)

	allowed, err := limiter.Check(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.True(t, h.snapshot(t, "alice").IsActive)
}
