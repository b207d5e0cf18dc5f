package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
	"github.com/akagifreeez/coin-market-api/pkg/crypto"
)

// Authenticator resolves a (key name, secret) pair using the cache as a
// read-through layer over the store.
type Authenticator struct {
	cache       Cache
	store       CredentialStore
	snapshotTTL time.Duration
}

func NewAuthenticator(c Cache, s CredentialStore, snapshotTTL time.Duration) *Authenticator {
	return &Authenticator{
		cache:       c,
		store:       s,
		snapshotTTL: snapshotTTL,
	}
}

// Authenticate returns the key when secret matches. Unknown names and wrong
// secrets both yield models.ErrDenied. Cache or store outages fail closed.
//
// is_active is not consulted here; RateLimiter.Check rejects inactive keys.
func (a *Authenticator) Authenticate(ctx context.Context, name, secret string) (*models.APIKey, error) {
	if name == "" || secret == "" {
		return nil, models.ErrInvalidInput
	}

	raw, err := a.cache.Get(ctx, authKey(name))
	switch {
	case err == nil:
		snap, decErr := models.DecodeSnapshot(raw)
		if decErr == nil && snap.Name == name {
			if !crypto.VerifySecret(snap.SecretDigest, secret) {
				return nil, models.ErrDenied
			}
			return snap.APIKey(), nil
		}
		// A poisoned entry is only a miss; the store decides.
		log.Debug().Err(decErr).Str("key_name", name).Msg("Ignoring unusable auth snapshot")
	case errors.Is(err, cache.ErrMiss):
	default:
		return nil, err
	}

	return a.authenticateFromStore(ctx, name, secret)
}

func (a *Authenticator) authenticateFromStore(ctx context.Context, name, secret string) (*models.APIKey, error) {
	key, err := a.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrDenied
		}
		return nil, err
	}

	if !crypto.VerifySecret(key.SecretDigest, secret) {
		// Never cache a rejection.
		return nil, models.ErrDenied
	}

	payload, err := models.SnapshotOf(key).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := a.cache.Set(ctx, authKey(name), payload, a.snapshotTTL); err != nil {
		return nil, err
	}

	return key, nil
}
