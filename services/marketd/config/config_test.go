package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `genesis = "genesis.toml"`))
	require.NoError(t, err)
	require.Equal(t, ":8640", cfg.ListenAddress)
	require.Equal(t, "dev", cfg.Environment)
	require.Equal(t, time.Second, cfg.BlockInterval.Duration)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 30, cfg.RateLimit.Burst)
	require.Empty(t, cfg.DataDir)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
listen = "127.0.0.1:9000"
environment = "prod"
data_dir = "/var/lib/marketd"
genesis = "/etc/marketd/genesis.toml"
block_interval = "250ms"

[rate_limit]
requests_per_minute = 120
burst = 10
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "/var/lib/marketd", cfg.DataDir)
	require.Equal(t, 250*time.Millisecond, cfg.BlockInterval.Duration)
	require.Equal(t, float64(120), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(writeConfig(t, `listen = ":8640"`))
	require.ErrorContains(t, err, "genesis path is required")

	_, err = Load(writeConfig(t, `
genesis = "genesis.toml"
block_interval = "0s"
`))
	require.ErrorContains(t, err, "block_interval must be positive")

	_, err = Load(writeConfig(t, `
genesis = "genesis.toml"
[rate_limit]
burst = -1
`))
	require.ErrorContains(t, err, "burst must not be negative")

	_, err = Load(writeConfig(t, `block_interval = "soon"`))
	require.ErrorContains(t, err, "parse duration")
}
