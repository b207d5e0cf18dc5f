package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akagifreeez/coin-market-api/internal/models"
)

const uniqueViolation = "23505"

const selectColumns = `key_name, key_value, is_active, rate_limit_per_day,
	requests_made_today, last_request_date, COALESCE(owner_email, ''), created_at`

// APIKeyStore reads and writes rows of the api_keys table
type APIKeyStore struct {
	db *pgxpool.Pool
}

func NewAPIKeyStore(db *pgxpool.Pool) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Get returns the key named name, or models.ErrNotFound.
func (s *APIKeyStore) Get(ctx context.Context, name string) (*models.APIKey, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM api_keys WHERE key_name = $1`, name)

	k, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return k, nil
}

// Create inserts a new key. A blank or existing name yields
// models.ErrDuplicateName and leaves the existing row untouched.
func (s *APIKeyStore) Create(ctx context.Context, in models.NewAPIKey) (*models.APIKey, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: blank name", models.ErrDuplicateName)
	}

	var owner *string
	if in.OwnerContact != "" {
		owner = &in.OwnerContact
	}
	limit := in.DailyLimit
	if limit <= 0 {
		limit = 100
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO api_keys (key_name, key_value, owner_email, rate_limit_per_day)
		VALUES ($1, $2, $3, $4)
		RETURNING `+selectColumns,
		in.Name, in.SecretDigest, owner, limit)

	k, err := scanAPIKey(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateName, in.Name)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return k, nil
}

// Update overwrites the usage fields of name, or returns models.ErrNotFound.
func (s *APIKeyStore) Update(ctx context.Context, name string, u models.UsageUpdate) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys SET
			is_active = $2,
			requests_made_today = $3,
			last_request_date = $4
		WHERE key_name = $1
	`, name, u.IsActive, u.RequestsMadeToday, u.LastRequestAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetUsage mirrors a usage counter without touching activity or timestamps.
func (s *APIKeyStore) SetUsage(ctx context.Context, name string, count int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE api_keys SET requests_made_today = $2 WHERE key_name = $1`, name, count)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ResetDaily zeroes today's usage and reactivates every key.
func (s *APIKeyStore) ResetDaily(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys SET requests_made_today = 0, is_active = TRUE
		WHERE requests_made_today <> 0 OR is_active = FALSE
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(
		&k.Name,
		&k.SecretDigest,
		&k.IsActive,
		&k.DailyLimit,
		&k.RequestsMadeToday,
		&k.LastRequestAt,
		&k.OwnerContact,
		&k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}
