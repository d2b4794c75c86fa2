package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/config"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	// GIVEN an empty config file
	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)

	// THEN every default is in place
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Refresh.Enabled)
	assert.Equal(t, []string{"MX", "BR"}, cfg.Refresh.Countries)
	assert.Equal(t, 3, cfg.Refresh.MaxRetries)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, 8, cfg.Orchestrator.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9090
  read_timeout: 5s
database:
  driver: memory
refresh:
  enabled: true
  endpoint: "https://rules.example.com/v1/%s/current"
  countries: ["MX"]
orchestrator:
  workers: 32
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Refresh.Enabled)
	assert.Equal(t, []string{"MX"}, cfg.Refresh.Countries)
	assert.Equal(t, 32, cfg.Orchestrator.Workers)

	// Untouched sections keep their defaults.
	assert.Equal(t, "30s", cfg.Server.WriteTimeout.String())
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: oracle\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown database driver "oracle"`)
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: postgres\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn is required")
}

func TestLoad_RefreshRequiresEndpoint(t *testing.T) {
	path := writeConfig(t, "refresh:\n  enabled: true\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh.endpoint is required")
}
