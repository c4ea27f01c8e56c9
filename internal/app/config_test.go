package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.PermissionCacheTTL)
	assert.Equal(t, 10*time.Second, cfg.LifecycleTxTimeout)
	assert.Equal(t, "*/5 * * * *", cfg.AutoCloseSweepCron)
	assert.Equal(t, 100, cfg.AutoCloseSweepBatch)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PERMISSION_CACHE_TTL", "30s")
	t.Setenv("LIFECYCLE_TX_TIMEOUT", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.PermissionCacheTTL)
	assert.Equal(t, 2*time.Second, cfg.LifecycleTxTimeout)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("LIFECYCLE_TX_TIMEOUT", "0s")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("LIFECYCLE_TX_TIMEOUT", "soon")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv("TICKETS_TEST_MODE", "")
	RefreshTestMode()
	assert.True(t, InTestMode(), "test binaries are always in test mode")
}
