// Package config loads store settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	envDataDir          = "GARNET_DATA_DIR"
	envFlushThreshold   = "GARNET_FLUSH_THRESHOLD_BYTES"
	envMaxLevels        = "GARNET_MAX_LEVELS"
	envCompactionPolicy = "GARNET_COMPACTION_POLICY"
	envLogLevel         = "GARNET_LOG_LEVEL"
)

// Config carries the tunable settings of a store instance. Zero values
// mean "use the built-in default".
type Config struct {
	// DataDir is the root directory holding the manifest, logs and
	// segments.
	DataDir string

	// FlushThresholdBytes freezes the active memtable once its
	// approximate size crosses this value.
	FlushThresholdBytes uint64

	// MaxLevels caps the depth of the tree.
	MaxLevels int

	// CompactionPolicy selects "leveled" or "size-tiered".
	CompactionPolicy string

	// LogLevel is a zap level string, for example "info" or "debug".
	LogLevel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win over file values.
func Load() (*Config, error) {
	godotenv.Load(".env")

	cfg := &Config{
		DataDir:          os.Getenv(envDataDir),
		CompactionPolicy: os.Getenv(envCompactionPolicy),
		LogLevel:         os.Getenv(envLogLevel),
	}

	if raw := os.Getenv(envFlushThreshold); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", envFlushThreshold, err)
		}
		cfg.FlushThresholdBytes = v
	}
	if raw := os.Getenv(envMaxLevels); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", envMaxLevels, err)
		}
		if v < 1 {
			return nil, fmt.Errorf("config: %s must be positive, got %d", envMaxLevels, v)
		}
		cfg.MaxLevels = v
	}

	switch cfg.CompactionPolicy {
	case "", "leveled", "size-tiered":
	default:
		return nil, fmt.Errorf("config: %s: unknown policy %q", envCompactionPolicy, cfg.CompactionPolicy)
	}
	return cfg, nil
}
