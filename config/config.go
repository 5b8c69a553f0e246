// Package config loads the daemon configuration from a YAML file with
// environment overrides. Every field has a sensible default so a bare
// `aifsd` starts a development instance.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Modes select the daemon security posture.
const (
	// ModeDevelopment runs without capability checks.
	ModeDevelopment = "development"
	// ModeProduction requires an auth secret and rejects unauthenticated
	// calls.
	ModeProduction = "production"
)

// Config is the daemon configuration.
type Config struct {
	StorageDir       string `yaml:"storage_dir"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	MaxWorkers       int    `yaml:"max_workers"`
	CompressionLevel int    `yaml:"compression_level"`
	LogLevel         string `yaml:"log_level"`
	Mode             string `yaml:"mode"`

	// AuthSecretFile points to the capability MAC secret. Required in
	// production mode.
	AuthSecretFile string `yaml:"auth_secret_file"`

	// MetricsPort serves Prometheus metrics when non-zero.
	MetricsPort int `yaml:"metrics_port"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		StorageDir:       "./aifs-data",
		Host:             "127.0.0.1",
		Port:             50051,
		MaxWorkers:       8,
		CompressionLevel: 1,
		LogLevel:         "info",
		Mode:             ModeDevelopment,
	}
}

// Load reads the YAML file at path, falls back to defaults for absent
// fields and applies AIFS_* environment overrides last. An empty path
// skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.StorageDir, "AIFS_STORAGE_DIR")
	setString(&c.Host, "AIFS_HOST")
	setInt(&c.Port, "AIFS_PORT")
	setInt(&c.MaxWorkers, "AIFS_MAX_WORKERS")
	setInt(&c.CompressionLevel, "AIFS_COMPRESSION_LEVEL")
	setString(&c.LogLevel, "AIFS_LOG_LEVEL")
	setString(&c.Mode, "AIFS_MODE")
	setString(&c.AuthSecretFile, "AIFS_AUTH_SECRET_FILE")
	setInt(&c.MetricsPort, "AIFS_METRICS_PORT")
	setInt(&c.RateLimitBurst, "AIFS_RATE_LIMIT_BURST")
	if v, ok := os.LookupEnv("AIFS_RATE_LIMIT_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimitRPS = f
		}
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive")
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 22 {
		return fmt.Errorf("compression_level %d out of range 1..22", c.CompressionLevel)
	}
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Mode == ModeProduction && c.AuthSecretFile == "" {
		return fmt.Errorf("production mode requires auth_secret_file")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ListenAddr is the host:port the gRPC server binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddr is the host:port of the metrics endpoint, empty when
// metrics are disabled.
func (c Config) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
