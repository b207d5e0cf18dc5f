package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
)

// ReconcileResult summarizes one reconciliation pass. Per-entry failures
// are in Errors; they never stop the pass.
type ReconcileResult struct {
	RunID    string
	Skipped  bool
	Scanned  int
	Updated  int
	Mirrored int
	Errors   []error
	Elapsed  time.Duration
}

// Reconciler drains cached key state into the store.
type Reconciler struct {
	cache   Cache
	store   CredentialStore
	limiter *RateLimiter
	jobs    *semaphore.Weighted
}

// NewReconciler creates a Reconciler. jobs is shared with DailyReset (see
// NewJobLock).
func NewReconciler(c Cache, s CredentialStore, limiter *RateLimiter, jobs *semaphore.Weighted) *Reconciler {
	return &Reconciler{
		cache:   c,
		store:   s,
		limiter: limiter,
		jobs:    jobs,
	}
}

// Run performs one full pass. If another pass or a daily reset holds the
// job lock it returns immediately with Skipped set.
//
// Phase one pairs every auth snapshot with its usage counter and writes
// both to the store. Phase two mirrors counters whose snapshot has already
// expired, so usage is not lost when a key goes quiet.
func (r *Reconciler) Run(ctx context.Context) ReconcileResult {
	res := ReconcileResult{RunID: uuid.NewString()}
	if !r.jobs.TryAcquire(1) {
		res.Skipped = true
		return res
	}
	defer r.jobs.Release(1)

	start := time.Now()
	logger := log.With().Str("run_id", res.RunID).Logger()

	seen := make(map[string]struct{})
	for key, err := range r.cache.Scan(ctx, authPrefix) {
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("scan %s*: %w", authPrefix, err))
			break
		}
		name := strings.TrimPrefix(key, authPrefix)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		res.Scanned++

		if err := r.syncSnapshot(ctx, name); err != nil {
			if errors.Is(err, cache.ErrMiss) {
				continue
			}
			logger.Warn().Err(err).Str("key_name", name).Msg("Reconcile entry failed")
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", key, err))
			continue
		}
		res.Updated++
	}

	mirrored := make(map[string]struct{})
	for key, err := range r.cache.Scan(ctx, usagePrefix) {
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("scan %s*: %w", usagePrefix, err))
			break
		}
		name := strings.TrimPrefix(key, usagePrefix)
		if _, done := seen[name]; done {
			continue
		}
		if _, done := mirrored[name]; done {
			continue
		}
		mirrored[name] = struct{}{}

		used, err := r.limiter.Usage(ctx, name)
		if err == nil {
			err = r.store.SetUsage(ctx, name, used)
		}
		if err != nil {
			logger.Warn().Err(err).Str("key_name", name).Msg("Usage mirror failed")
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", key, err))
			continue
		}
		res.Mirrored++
	}

	res.Elapsed = time.Since(start)
	logger.Info().
		Int("scanned", res.Scanned).
		Int("updated", res.Updated).
		Int("mirrored", res.Mirrored).
		Int("failed", len(res.Errors)).
		Dur("elapsed", res.Elapsed).
		Msg("Reconciliation pass completed")

	return res
}

func (r *Reconciler) syncSnapshot(ctx context.Context, name string) error {
	raw, err := r.cache.Get(ctx, authKey(name))
	if err != nil {
		// cache.ErrMiss: expired since the scan saw it
		return err
	}

	used, err := r.limiter.Usage(ctx, name)
	if err != nil {
		return err
	}

	snap, err := models.DecodeSnapshot(raw)
	if err != nil {
		return err
	}
	if snap.Name != name {
		return fmt.Errorf("%w: snapshot names %q", models.ErrCorrupt, snap.Name)
	}

	return r.store.Update(ctx, name, models.UsageUpdate{
		IsActive:          snap.IsActive,
		RequestsMadeToday: used,
		LastRequestAt:     snap.LastRequestAt,
	})
}
