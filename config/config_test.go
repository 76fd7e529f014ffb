package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
newrelic:
  api_key: NRAK-test
  account_id: 1234
  max_concurrency: 3
cache:
  max_age: 12h
refresh:
  check_interval: 30m
storage:
  history_retention: 7d
server:
  port: 9000
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "NRAK-test", cfg.NewRelic.APIKey)
	assert.Equal(t, 1234, cfg.NewRelic.AccountID)
	assert.Equal(t, 3, cfg.NewRelic.MaxConcurrency)
	assert.Equal(t, "https://api.newrelic.com/graphql", cfg.NewRelic.Endpoint)
	assert.Equal(t, 12*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, 30*time.Minute, cfg.Refresh.CheckInterval)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.True(t, cfg.NewRelicEnabled())

	retention, err := cfg.HistoryRetention()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, retention)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RELICWATCH_NEWRELIC_API_KEY", "from-env")
	t.Setenv("RELICWATCH_SERVER_PORT", "8181")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.NewRelic.APIKey)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "no endpoint", mutate: func(c *Config) { c.NewRelic.Endpoint = "" }},
		{name: "zero concurrency", mutate: func(c *Config) { c.NewRelic.MaxConcurrency = 0 }},
		{name: "zero max age", mutate: func(c *Config) { c.Cache.MaxAge = 0 }},
		{name: "bad retention", mutate: func(c *Config) { c.Storage.HistoryRetention = "thirty days" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestHistoryRetention_Empty(t *testing.T) {
	cfg := Default()
	cfg.Storage.HistoryRetention = ""

	d, err := cfg.HistoryRetention()
	require.NoError(t, err)
	assert.Zero(t, d)
}
