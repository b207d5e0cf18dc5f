package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/internal/store/storetest"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
	"github.com/akagifreeez/coin-market-api/pkg/crypto"
)

const (
	testSnapshotTTL = 5 * time.Minute
	testUsageTTL    = 24 * time.Hour
)

type harness struct {
	mr      *miniredis.Miniredis
	cache   *cache.Cache
	store   *storetest.Memory
	auth    *Authenticator
	limiter *RateLimiter
	jobs    *semaphore.Weighted
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	c := cache.New(rdb)
	st := storetest.NewMemory()
	return &harness{
		mr:      mr,
		cache:   c,
		store:   st,
		auth:    NewAuthenticator(c, st, testSnapshotTTL),
		limiter: NewRateLimiter(c, testUsageTTL),
		jobs:    NewJobLock(),
	}
}

// seed stores a key with the given limit and returns its plaintext secret.
func (h *harness) seed(t *testing.T, name string, limit int64) string {
	t.Helper()
	secret, err := crypto.GenerateSecret()
	require.NoError(t, err)
	digest, err := crypto.HashSecret(secret)
	require.NoError(t, err)
	h.store.Put(models.APIKey{
		Name:         name,
		SecretDigest: digest,
		IsActive:     true,
		DailyLimit:   limit,
		CreatedAt:    time.Now(),
	})
	return secret
}

func (h *harness) snapshot(t *testing.T, name string) models.Snapshot {
	t.Helper()
	raw, err := h.mr.Get(authKey(name))
	require.NoError(t, err)
	snap, err := models.DecodeSnapshot(raw)
	require.NoError(t, err)
	return snap
}

func (h *harness) login(t *testing.T, name, secret string) {
	t.Helper()
	_, err := h.auth.Authenticate(context.Background(), name, secret)
	require.NoError(t, err)
}
