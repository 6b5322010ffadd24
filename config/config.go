package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ntfind/ntfind/internal/util"
)

// Config contains runtime configuration for the indexer and search engine.
type Config struct {
	Volumes      []string // Volumes to index, e.g. ["C:", "D:"]. Empty means discover all NTFS volumes.
	WatchFolders []string // Folders outside MFT coverage watched through directory events (cloud-sync dirs etc).

	DataDir  string // Directory for saved indexes, bookmarks and the query history (Default ~/.ntfind)
	ScanMode string // "full" (sizes + timestamps via raw MFT walk) or "fast" (names only via journal enumeration)
	Persist  bool   // Save indexes and bookmarks to DataDir so restarts resume instead of rescanning (Default true)

	PollInterval time.Duration // Change journal poll cadence (Default 500ms)
	BatchSize    int           // Max change events applied per poll cycle (Default 1024)

	SearchLimit    int // Results materialized per query (Default 50)
	FilenameWeight int // Score multiplier for filename matches over path matches (Default 2)

	LogLvl util.LogLevel // Derived from the verbose override, not set directly
}

// ConfigOverride uses pointer fields to distinguish between unset and zero
// values when loading partial configuration. Slice fields use nil as unset.
// See [Config] for field descriptions.
type ConfigOverride struct {
	Volumes      []string `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	WatchFolders []string `yaml:"watch_folders,omitempty" json:"watch_folders,omitempty"`

	DataDir  *string `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	ScanMode *string `yaml:"scan_mode,omitempty" json:"scan_mode,omitempty"`
	Persist  *bool   `yaml:"persist,omitempty" json:"persist,omitempty"`

	PollIntervalMs *int `yaml:"poll_interval_ms,omitempty" json:"poll_interval_ms,omitempty"`
	BatchSize      *int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	SearchLimit    *int `yaml:"search_limit,omitempty" json:"search_limit,omitempty"`
	FilenameWeight *int `yaml:"filename_weight,omitempty" json:"filename_weight,omitempty"`

	// Verbose is the CLI verbosity between 1 (error) and 5 (trace).
	Verbose *int `yaml:"verbose,omitempty" json:"verbose,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:        defaultDataDir(),
		ScanMode:       DefaultScanMode,
		Persist:        DefaultPersist,
		PollInterval:   DefaultPollInterval,
		BatchSize:      DefaultBatchSize,
		SearchLimit:    DefaultSearchLimit,
		FilenameWeight: DefaultFilenameWeight,
		LogLvl:         util.InfoLevel,
	}
}

// NewConfig creates a Config from defaults with the override applied on top.
// A nil override returns plain defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.Volumes != nil {
		c.Volumes = override.Volumes
	}
	if override.WatchFolders != nil {
		c.WatchFolders = override.WatchFolders
	}
	if override.DataDir != nil {
		c.DataDir = *override.DataDir
	}
	if override.ScanMode != nil {
		c.ScanMode = *override.ScanMode
	}
	if override.Persist != nil {
		c.Persist = *override.Persist
	}
	if override.PollIntervalMs != nil {
		c.PollInterval = time.Duration(*override.PollIntervalMs) * time.Millisecond
	}
	if override.BatchSize != nil {
		c.BatchSize = *override.BatchSize
	}
	if override.SearchLimit != nil {
		c.SearchLimit = *override.SearchLimit
	}
	if override.FilenameWeight != nil {
		c.FilenameWeight = *override.FilenameWeight
	}
	if override.Verbose != nil {
		c.LogLvl = util.LevelFromVerbosity(*override.Verbose)
	}
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, DefaultDataDirName)
}
