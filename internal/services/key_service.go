package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/pkg/crypto"
)

// IssuedKey is returned exactly once, at creation. The secret cannot be
// recovered afterwards.
type IssuedKey struct {
	Name   string `json:"key_name"`
	Secret string `json:"api_key"`
}

// KeyService issues new API keys
type KeyService struct {
	store        CredentialStore
	sealer       *crypto.Sealer
	defaultLimit int64
}

func NewKeyService(s CredentialStore, sealer *crypto.Sealer, defaultLimit int64) *KeyService {
	return &KeyService{
		store:        s,
		sealer:       sealer,
		defaultLimit: defaultLimit,
	}
}

// Issue creates a key named name. Blank or malformed names are
// models.ErrInvalidInput; a taken name is models.ErrDuplicateName.
func (s *KeyService) Issue(ctx context.Context, name, owner string) (*IssuedKey, error) {
	name = strings.TrimSpace(name)
	if !models.ValidKeyName(name) {
		return nil, fmt.Errorf("%w: key name must be 1-%d characters without spaces or glob characters",
			models.ErrInvalidInput, models.MaxKeyNameLength)
	}

	secret, err := crypto.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	digest, err := crypto.HashSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	sealedOwner, err := s.sealer.Seal(strings.TrimSpace(owner))
	if err != nil {
		return nil, fmt.Errorf("seal owner: %w", err)
	}

	key, err := s.store.Create(ctx, models.NewAPIKey{
		Name:         name,
		SecretDigest: digest,
		OwnerContact: sealedOwner,
		DailyLimit:   s.defaultLimit,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("key_name", key.Name).Int64("limit", key.DailyLimit).Msg("API key issued")
	return &IssuedKey{Name: key.Name, Secret: secret}, nil
}

// Owner returns the unsealed owner contact of name.
func (s *KeyService) Owner(ctx context.Context, name string) (string, error) {
	key, err := s.store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return s.sealer.Open(key.OwnerContact)
}
