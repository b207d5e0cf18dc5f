package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
)

// DailyResetResult reports what one reset touched.
type DailyResetResult struct {
	Skipped     bool
	Counters    int
	Reactivated int
	StoreRows   int64
	Errors      []error
}

// DailyReset starts a new quota day: counters go to zero and keys that
// were deactivated for exhausting their quota become active again.
type DailyReset struct {
	cache   Cache
	store   CredentialStore
	limiter *RateLimiter
	jobs    *semaphore.Weighted

	running sync.Mutex
}

// NewDailyReset creates a DailyReset. jobs must be the lock given to the
// Reconciler (see NewJobLock).
func NewDailyReset(c Cache, s CredentialStore, limiter *RateLimiter, jobs *semaphore.Weighted) *DailyReset {
	return &DailyReset{cache: c, store: s, limiter: limiter, jobs: jobs}
}

// Run is idempotent. A second concurrent Run is skipped. A reconciliation
// pass in progress is waited for, since a pass that read state before the
// reset would otherwise write yesterday's usage back over it.
func (d *DailyReset) Run(ctx context.Context) DailyResetResult {
	var res DailyResetResult
	if !d.running.TryLock() {
		res.Skipped = true
		return res
	}
	defer d.running.Unlock()

	if err := d.jobs.Acquire(ctx, 1); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("wait for reconciliation: %w", err))
		return res
	}
	defer d.jobs.Release(1)

	n, err := d.limiter.ResetAll(ctx)
	res.Counters = n
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("reset counters: %w", err))
	}

	for key, err := range d.cache.Scan(ctx, authPrefix) {
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("scan %s*: %w", authPrefix, err))
			break
		}
		reactivated, err := d.reactivate(ctx, key)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if reactivated {
			res.Reactivated++
		}
	}

	rows, err := d.store.ResetDaily(ctx)
	res.StoreRows = rows
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("reset store: %w", err))
	}

	log.Info().
		Int("counters", res.Counters).
		Int("reactivated", res.Reactivated).
		Int64("store_rows", res.StoreRows).
		Int("failed", len(res.Errors)).
		Msg("Daily quota reset completed")

	return res
}

func (d *DailyReset) reactivate(ctx context.Context, key string) (bool, error) {
	name := strings.TrimPrefix(key, authPrefix)
	wasInactive := false
	err := updateSnapshot(ctx, d.cache, name, func(s *models.Snapshot) error {
		wasInactive = !s.IsActive
		s.IsActive = true
		s.RequestsMadeToday = 0
		return nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return false, nil
		}
		return false, err
	}
	return wasInactive, nil
}
