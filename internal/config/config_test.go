package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("SNAPSHOT_TTL", "")
	t.Setenv("DEFAULT_DAILY_LIMIT", "")
	t.Setenv("ENCRYPTION_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, 24*time.Hour, cfg.UsageTTL)
	assert.Equal(t, int64(100), cfg.DefaultDailyLimit)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, "@midnight", cfg.DailyResetSchedule)
	assert.Len(t, cfg.EncryptionKey, 32)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SNAPSHOT_TTL", "90s")
	t.Setenv("DEFAULT_DAILY_LIMIT", "2")
	t.Setenv("DAILY_RESET_SCHEDULE", "0 0 * * *")
	t.Setenv("RECONCILE_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.SnapshotTTL)
	assert.Equal(t, int64(2), cfg.DefaultDailyLimit)
	assert.Equal(t, "0 0 * * *", cfg.DailyResetSchedule)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "too-short")
	t.Setenv("DEFAULT_DAILY_LIMIT", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
	assert.Contains(t, err.Error(), "DEFAULT_DAILY_LIMIT")
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
