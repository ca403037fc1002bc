// Package config loads WARP engine configuration: defaults, an optional YAML
// file, and environment variable overrides, in that order of increasing
// precedence — the same layering the teacher repo's internal/config uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every engine-wide tunable. Per-graph options (ceiling,
// receipts) are passed explicitly to engine calls, not configured here.
type Config struct {
	Cache      CacheConfig      `yaml:"cache"`
	Sync       SyncConfig       `yaml:"sync"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CacheConfig holds cache sizes (§4.3, §9). AdjacencyEntries sizes the
// adjacency LRU; MaterializationEntries is not read by the engine, whose
// materialization cache has no size bound.
type CacheConfig struct {
	MaterializationEntries int `yaml:"materialization_entries"`
	AdjacencyEntries       int `yaml:"adjacency_entries"`
}

// SyncConfig bounds the sync HTTP transport's retry and payload behavior.
type SyncConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxPayloadBytes int64         `yaml:"max_payload_bytes"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
}

// CheckpointConfig drives the auto-checkpoint policy (§4.3).
type CheckpointConfig struct {
	EveryNPatches int           `yaml:"every_n_patches"`
	EveryInterval time.Duration `yaml:"every_interval"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
}

// Default returns the baseline configuration used when no file/env overrides
// are present.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			MaterializationEntries: 128,
			AdjacencyEntries:       128,
		},
		Sync: SyncConfig{
			MaxRetries:      3,
			RequestTimeout:  30 * time.Second,
			MaxPayloadBytes: 10 * 1024 * 1024, // 10 MiB default per spec §5
			RateLimitPerSec: 20,
		},
		Checkpoint: CheckpointConfig{
			EveryNPatches: 0, // disabled by default
			EveryInterval: 0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: false,
		},
	}
}

// Load reads defaults, then an optional YAML file at path (if non-empty and
// present), then environment variables prefixed WARP_. Missing file is not
// an error; callers fall back to Default().
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; .env is optional

	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("WARP")
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	return cfg, nil
}

// DefaultPath returns the conventional config file location under the
// user's home directory, mirroring the teacher's ~/.coderisk layout.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".warp", "config.yaml")
}
