package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/internal/store/storetest"
)

func TestDailyResetReactivatesExhaustedKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 1)
	h.login(t, "alice", secret)

	_, err := h.limiter.Increment(ctx, "alice")
	require.NoError(t, err)
	allowed, err := h.limiter.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, allowed)

	rec := NewReconciler(h.cache, h.store, h.limiter, h.jobs)
	require.Empty(t, rec.Run(ctx).Errors)
	k, _ := h.store.Snapshot("alice")
	require.False(t, k.IsActive)

	res := NewDailyReset(h.cache, h.store, h.limiter, h.jobs).Run(ctx)
	require.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Counters)
	assert.Equal(t, 1, res.Reactivated)
	assert.Equal(t, int64(1), res.StoreRows)

	assert.True(t, h.snapshot(t, "alice").IsActive)
	k, _ = h.store.Snapshot("alice")
	assert.True(t, k.IsActive)
	assert.Zero(t, k.RequestsMadeToday)

	allowed, err = h.limiter.Check(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDailyResetIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t, "alice", h.seed(t, "alice", 5))
	_, err := h.limiter.Increment(ctx, "alice")
	require.NoError(t, err)

	d := NewDailyReset(h.cache, h.store, h.limiter, h.jobs)
	first := d.Run(ctx)
	second := d.Run(ctx)

	require.Empty(t, first.Errors)
	require.Empty(t, second.Errors)
	assert.Zero(t, second.Reactivated)
	assert.Zero(t, second.StoreRows)
	used, err := h.limiter.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, used)
}

// hookedStore runs onUpdate once, before the first Update reaches the store.
type hookedStore struct {
	*storetest.Memory
	once     sync.Once
	onUpdate func()
}

func (s *hookedStore) Update(ctx context.Context, name string, u models.UsageUpdate) error {
	s.once.Do(s.onUpdate)
	return s.Memory.Update(ctx, name, u)
}

func TestDailyResetDuringReconcileConverges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret := h.seed(t, "alice", 1)
	h.login(t, "alice", secret)

	_, err := h.limiter.Increment(ctx, "alice")
	require.NoError(t, err)
	allowed, err := h.limiter.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, allowed)

	st := &hookedStore{Memory: h.store}
	reset := NewDailyReset(h.cache, st, h.limiter, h.jobs)
	resetDone := make(chan DailyResetResult, 1)
	st.onUpdate = func() {
		// Midnight arrives after the pass has read alice's exhausted state.
		go func() { resetDone <- reset.Run(ctx) }()
		select {
		case <-resetDone:
			t.Error("daily reset ran in the middle of a reconciliation pass")
		case <-time.After(100 * time.Millisecond):
		}
	}

	res := NewReconciler(h.cache, st, h.limiter, h.jobs).Run(ctx)
	require.Empty(t, res.Errors)

	select {
	case r := <-resetDone:
		require.Empty(t, r.Errors)
	case <-time.After(5 * time.Second):
		t.Fatal("daily reset never ran")
	}

	k, _ := h.store.Snapshot("alice")
	assert.True(t, k.IsActive)
	assert.Zero(t, k.RequestsMadeToday)

	// A new day: once the snapshot expires the key reloads from the store.
	h.mr.FastForward(testSnapshotTTL + time.Second)
	h.login(t, "alice", secret)
	allowed, err = h.limiter.Check(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.Empty(t, NewReconciler(h.cache, h.store, h.limiter, h.jobs).Run(ctx).Errors)
	k, _ = h.store.Snapshot("alice")
	assert.True(t, k.IsActive)
}

func TestDailyResetGivesUpWhenLockNeverFrees(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.jobs.TryAcquire(1))
	defer h.jobs.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := NewDailyReset(h.cache, h.store, h.limiter, h.jobs).Run(ctx)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], context.DeadlineExceeded)
}
