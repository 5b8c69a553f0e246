package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aifsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"storage_dir: /var/lib/aifs\nport: 7000\nlog_level: debug\nmetrics_port: 9100\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/aifs", cfg.StorageDir)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr())
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr())
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep their defaults.
	assert.Equal(t, 8, cfg.MaxWorkers)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aifsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strage_dir: /tmp\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIFS_PORT", "6000")
	t.Setenv("AIFS_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty storage dir", func(c *Config) { c.StorageDir = "" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"bad compression level", func(c *Config) { c.CompressionLevel = 23 }},
		{"bad mode", func(c *Config) { c.Mode = "staging" }},
		{"production without secret", func(c *Config) { c.Mode = ModeProduction }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero workers", func(c *Config) { c.MaxWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
