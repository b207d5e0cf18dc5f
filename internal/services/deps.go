package services

import (
	"context"
	"fmt"
	"iter"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/akagifreeez/coin-market-api/internal/models"
)

const (
	authPrefix  = "auth:"
	usagePrefix = "usage:"
)

// Cache is the subset of pkg/cache used by the services.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Update(ctx context.Context, key string, fn func(current string) (string, error), watch ...string) error
	Increment(ctx context.Context, key string, ttlIfNew time.Duration) (int64, error)
	Scan(ctx context.Context, prefix string) iter.Seq2[string, error]
}

// CredentialStore is the durable side of an API key.
type CredentialStore interface {
	Get(ctx context.Context, name string) (*models.APIKey, error)
	Create(ctx context.Context, in models.NewAPIKey) (*models.APIKey, error)
	Update(ctx context.Context, name string, u models.UsageUpdate) error
	SetUsage(ctx context.Context, name string, count int64) error
	ResetDaily(ctx context.Context) (int64, error)
}

func authKey(name string) string  { return authPrefix + name }
func usageKey(name string) string { return usagePrefix + name }

// NewJobLock returns the lock shared by the Reconciler and DailyReset. Both
// write key state to the store, so they must never interleave.
func NewJobLock() *semaphore.Weighted {
	return semaphore.NewWeighted(1)
}

// updateSnapshot applies fn to the cached snapshot of name as one
// compare-and-set. Writes to any watch key in the meantime make fn run
// again on fresh data.
func updateSnapshot(ctx context.Context, c Cache, name string, fn func(*models.Snapshot) error, watch ...string) error {
	return c.Update(ctx, authKey(name), func(raw string) (string, error) {
		snap, err := models.DecodeSnapshot(raw)
		if err != nil {
			return "", err
		}
		if snap.Name != name {
			return "", fmt.Errorf("%w: snapshot for %q stored under %q", models.ErrCorrupt, snap.Name, name)
		}
		if err := fn(&snap); err != nil {
			return "", err
		}
		return snap.Encode()
	}, watch...)
}
