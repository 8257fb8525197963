package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment:
  mode: live
market:
  underlying: BTC
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Cache.TTL)
	require.Equal(t, 10, cfg.Liquidation.CascadeThreshold)
	require.Equal(t, 0.7, cfg.GEX.WallZoneThreshold)
	require.Equal(t, 24*time.Hour, cfg.Liquidation.Retention)
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := writeConfig(t, `
environment:
  mode: paper
market:
  underlying: BTC
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
environment:
  mode: live
market:
  underlying: BTC
not_a_real_field: true
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("TEST_ESCAPEENGINE_SYMBOL", "ETH"))
	defer os.Unsetenv("TEST_ESCAPEENGINE_SYMBOL")

	path := writeConfig(t, `
environment:
  mode: live
market:
  underlying: ${TEST_ESCAPEENGINE_SYMBOL}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ETH", cfg.Market.Underlying)
}
