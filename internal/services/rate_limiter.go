package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
)

// RateLimiter enforces per-key daily quotas from cached usage counters
type RateLimiter struct {
	cache    Cache
	usageTTL time.Duration
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(c Cache, usageTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		cache:    c,
		usageTTL: usageTTL,
	}
}

// Check reports whether name may make another request today. It expects
// Authenticate to have populated the snapshot; a missing snapshot denies.
// A key at its limit is deactivated in the snapshot. Errors always come
// with false.
//
// Deactivation is a compare-and-set that watches the usage counter, so a
// daily reset landing between the read and the write is never undone.
func (r *RateLimiter) Check(ctx context.Context, name string) (bool, error) {
	snap, err := r.snapshot(ctx, name)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) || errors.Is(err, models.ErrCorrupt) {
			return false, nil
		}
		return false, err
	}

	if !snap.IsActive {
		return false, nil
	}

	used, err := r.Usage(ctx, name)
	if err != nil {
		return false, err
	}
	if used < snap.DailyLimit {
		return true, nil
	}

	allowed, deactivated := false, false
	err = updateSnapshot(ctx, r.cache, name, func(s *models.Snapshot) error {
		allowed, deactivated = false, false
		if !s.IsActive {
			return nil
		}
		n, err := r.Usage(ctx, name)
		if err != nil {
			return err
		}
		used = n
		if used < s.DailyLimit {
			allowed = true
			return nil
		}
		s.IsActive = false
		deactivated = true
		return nil
	}, usageKey(name))
	switch {
	case errors.Is(err, cache.ErrMiss), errors.Is(err, cache.ErrConflict), errors.Is(err, models.ErrCorrupt):
		return false, nil
	case err != nil:
		return false, err
	}

	if deactivated {
		log.Info().
			Str("key_name", name).
			Int64("used", used).
			Int64("limit", snap.DailyLimit).
			Msg("Daily limit reached, key deactivated")
	}
	return allowed, nil
}

// Increment records one served request. Call it only after Check allowed
// the request and the data was delivered.
func (r *RateLimiter) Increment(ctx context.Context, name string) (int64, error) {
	return r.cache.Increment(ctx, usageKey(name), r.usageTTL)
}

// Touch stamps the snapshot with the time of the last served request.
// Only LastRequestAt changes; a concurrent deactivation is preserved. An
// expired snapshot is left alone.
func (r *RateLimiter) Touch(ctx context.Context, name string, at time.Time) error {
	at = at.UTC()
	err := updateSnapshot(ctx, r.cache, name, func(s *models.Snapshot) error {
		s.LastRequestAt = &at
		return nil
	})
	if errors.Is(err, cache.ErrMiss) || errors.Is(err, models.ErrCorrupt) {
		return nil
	}
	return err
}

// Usage returns today's request count for name; an absent counter is 0.
func (r *RateLimiter) Usage(ctx context.Context, name string) (int64, error) {
	raw, err := r.cache.Get(ctx, usageKey(name))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: usage counter %q", models.ErrCorrupt, raw)
	}
	return n, nil
}

// ResetAll sets every usage counter back to 0 with a fresh TTL. Running it
// twice is harmless; an Increment racing with it may be lost.
func (r *RateLimiter) ResetAll(ctx context.Context) (int, error) {
	reset := 0
	for key, err := range r.cache.Scan(ctx, usagePrefix) {
		if err != nil {
			return reset, err
		}
		if err := r.cache.Set(ctx, key, "0", r.usageTTL); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

func (r *RateLimiter) snapshot(ctx context.Context, name string) (models.Snapshot, error) {
	raw, err := r.cache.Get(ctx, authKey(name))
	if err != nil {
		return models.Snapshot{}, err
	}
	snap, err := models.DecodeSnapshot(raw)
	if err != nil {
		return models.Snapshot{}, err
	}
	if snap.Name != name {
		return models.Snapshot{}, fmt.Errorf("%w: snapshot for %q stored under %q", models.ErrCorrupt, snap.Name, name)
	}
	return snap, nil
}
