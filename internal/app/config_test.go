package app

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/JavierPalina/TINCO-sub002/internal/inventory"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INVENTORY_BOM_POLICY", "")
	t.Setenv("INVENTORY_TX_ISOLATION", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, inventory.BOMPolicyHighest, cfg.BOMPolicy)
	require.Equal(t, pgx.ReadCommitted, cfg.TxIsolation)
	require.Equal(t, time.Minute, cfg.InventoryCacheTTL)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigParsesInventorySettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("INVENTORY_BOM_POLICY", "strict")
	t.Setenv("INVENTORY_TX_ISOLATION", "serializable")
	t.Setenv("INVENTORY_CACHE_TTL", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, inventory.BOMPolicyStrict, cfg.BOMPolicy)
	require.Equal(t, pgx.Serializable, cfg.TxIsolation)
	require.Equal(t, 30*time.Second, cfg.InventoryCacheTTL)
	require.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INVENTORY_BOM_POLICY", "newest")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "INVENTORY_BOM_POLICY")

	t.Setenv("INVENTORY_BOM_POLICY", "highest")
	t.Setenv("INVENTORY_TX_ISOLATION", "chaos")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "INVENTORY_TX_ISOLATION")
}

func TestNewLoggerLevels(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel(&Config{LogLevel: "debug"}).String())
	require.Equal(t, "INFO", parseLevel(nil).String())
	require.NotNil(t, NewLogger(&Config{LogFormat: "json"}))
}
