// Package config loads Forge settings from defaults, an optional TOML file
// and FORGE_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use a
// double underscore: FORGE_PIPELINE__MAX_COMMIT_RETRIES.
const EnvPrefix = "FORGE_"

// DefaultFile is looked up under the data dir when no path is given.
const DefaultFile = "forge.toml"

// Config is the full Forge configuration.
type Config struct {
	DataDir string `koanf:"data_dir"`
	PeerID  string `koanf:"peer_id"` // empty means generate one per workspace

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"` // console or json
	} `koanf:"log"`

	Pipeline struct {
		ClassifyTimeout  time.Duration `koanf:"classify_timeout"`
		MaxCommitRetries int           `koanf:"max_commit_retries"`
	} `koanf:"pipeline"`

	Voters struct {
		Path     bool `koanf:"path"`
		Markers  bool `koanf:"markers"`
		MaxLines int  `koanf:"max_lines"` // 0 disables the size voter
	} `koanf:"voters"`

	Journal struct {
		SyncWrites bool `koanf:"sync_writes"`
	} `koanf:"journal"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"data_dir":                    ".forge",
		"peer_id":                     "",
		"log.level":                   "info",
		"log.format":                  "console",
		"pipeline.classify_timeout":   "5s",
		"pipeline.max_commit_retries": 3,
		"voters.path":                 true,
		"voters.markers":              true,
		"voters.max_lines":            400,
		"journal.sync_writes":         true,
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	k := koanf.New(".")
	cfg := &Config{}
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		panic(err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads defaults, then the TOML file at path (or <data_dir>/forge.toml
// when path is empty and the file exists), then environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path == "" {
		dir := k.String("data_dir")
		if v, ok := os.LookupEnv(EnvPrefix + "DATA_DIR"); ok {
			dir = v
		}
		candidate := filepath.Join(dir, DefaultFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps FORGE_LOG__LEVEL to log.level.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.Pipeline.ClassifyTimeout <= 0 {
		return fmt.Errorf("config: pipeline.classify_timeout must be positive, got %s", c.Pipeline.ClassifyTimeout)
	}
	if c.Pipeline.MaxCommitRetries < 1 {
		return fmt.Errorf("config: pipeline.max_commit_retries must be at least 1, got %d", c.Pipeline.MaxCommitRetries)
	}
	if c.Voters.MaxLines < 0 {
		return fmt.Errorf("config: voters.max_lines must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// StorePath returns the directory of the snapshot database.
func (c *Config) StorePath() string { return c.DataDir }

// JournalPath returns the directory of the operation journal.
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "journal") }
