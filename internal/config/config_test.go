package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "./data/walks.db", cfg.DB.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Stats.WindowDays)
	assert.Equal(t, 30*time.Second, cfg.Stats.CacheTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Live.Backoff.Initial)
	assert.Equal(t, 2*time.Minute, cfg.Live.Backoff.MaxElapsed)
	assert.True(t, cfg.Auth.Required)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walktracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
stats:
  timezone: Europe/Oslo
  window_days: 14
live:
  backoff:
    initial: 1s
    max: 10s
`), 0o600))

	t.Setenv("WALK_DB_PATH", "/tmp/walks-env.db")
	t.Setenv("WALK_STATS_WINDOW_DAYS", "30")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/walks-env.db", cfg.DB.Path)
	assert.Equal(t, 30, cfg.Stats.WindowDays)
	assert.Equal(t, time.Second, cfg.Live.Backoff.Initial)
	assert.Equal(t, 10*time.Second, cfg.Live.Backoff.Max)
	assert.Equal(t, "Europe/Oslo", cfg.Stats.TimeZone)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad zone", func(c *Config) { c.Stats.TimeZone = "Not/AZone" }},
		{"zero window", func(c *Config) { c.Stats.WindowDays = 0 }},
		{"inverted backoff", func(c *Config) { c.Live.Backoff.Max = c.Live.Backoff.Initial / 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
