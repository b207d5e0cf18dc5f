package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Reads dominate: key lookups on cache miss and chart queries.
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the tables owned by this service. The gold_* warehouse
// tables are loaded by the ETL and only read here.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			key_name VARCHAR(50) PRIMARY KEY,
			key_value TEXT NOT NULL,               -- hex(salt):hex(sha256), never the plaintext
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			rate_limit_per_day BIGINT NOT NULL DEFAULT 100 CHECK (rate_limit_per_day > 0),
			requests_made_today BIGINT NOT NULL DEFAULT 0 CHECK (requests_made_today >= 0),
			last_request_date TIMESTAMPTZ,
			owner_email TEXT                       -- AES-GCM sealed
		);`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_inactive ON api_keys(is_active) WHERE is_active = false;`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	log.Debug().Int("statements", len(migrations)).Msg("Schema migrations applied")
	return nil
}
