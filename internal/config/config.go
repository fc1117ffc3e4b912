// Package config loads and validates codegraph configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the per-project configuration file.
const DefaultFileName = ".codegraph.yaml"

// Duration wraps time.Duration so YAML accepts "500ms"-style strings as
// well as bare nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, perr := time.ParseDuration(raw)
	if perr != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, perr)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config controls the project core and its surfaces.
type Config struct {
	// DataDir is the root under which per-project table directories live.
	DataDir string `yaml:"data_dir"`

	// SyncTimeout is how long the core waits after the last job completes
	// before folding buffered deltas into the tables.
	SyncTimeout Duration `yaml:"sync_timeout"`

	// DirtyTimeout coalesces watcher events before dirty jobs start.
	DirtyTimeout Duration `yaml:"dirty_timeout"`

	// SyncThreshold triggers a sync once this many deltas are buffered.
	// 0 disables threshold-triggered syncs.
	SyncThreshold int `yaml:"sync_threshold"`

	// Workers bounds concurrent indexer jobs in the local pool.
	Workers int `yaml:"workers"`

	// WatchSystemPaths enables watching directories under system roots.
	WatchSystemPaths bool `yaml:"watch_system_paths"`

	// DisallowMultipleSources keeps at most one compile invocation per
	// file, erasing siblings with differing arguments.
	DisallowMultipleSources bool `yaml:"disallow_multiple_sources"`

	// Suspended suspends the whole project: modifications are ignored and
	// the load-time sweep reports nothing dirty.
	Suspended bool `yaml:"suspended"`

	// ObjCPropertyFallback retries pending-reference resolution with the
	// (im) -> (py) rewrite. Compatibility shim.
	ObjCPropertyFallback bool `yaml:"objc_property_fallback"`

	// IndexerCommand is the argv of the external indexer front-end invoked
	// per translation unit.
	IndexerCommand []string `yaml:"indexer_command"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:              defaultDataDir(),
		SyncTimeout:          Duration(500 * time.Millisecond),
		DirtyTimeout:         Duration(100 * time.Millisecond),
		SyncThreshold:        0,
		Workers:              runtime.NumCPU(),
		ObjCPropertyFallback: true,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codegraph"
	}
	return filepath.Join(home, ".codegraph")
}

// Load reads the config at path, applying defaults for absent keys. A
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WithDefaults fills zero values with defaults.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = def.SyncTimeout
	}
	if c.DirtyTimeout == 0 {
		c.DirtyTimeout = def.DirtyTimeout
	}
	if c.Workers == 0 {
		c.Workers = def.Workers
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	return c
}

// Validate rejects nonsensical settings.
func (c Config) Validate() error {
	if c.SyncTimeout < 0 {
		return errors.New("sync_timeout must not be negative")
	}
	if c.DirtyTimeout < 0 {
		return errors.New("dirty_timeout must not be negative")
	}
	if c.SyncThreshold < 0 {
		return errors.New("sync_threshold must not be negative")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
