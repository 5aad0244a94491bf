// Package config loads and persists the daemon's YAML settings file, the
// way onemount's cmd/common/config.go does: parse what's on disk, merge
// missing fields in from a hardcoded default, then validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"

	"github.com/onedrivefs/onedrivefs/internal/logging"
)

// Config is the daemon's settings.json/config.yml content (spec §6.1): the
// sync folder list and conflict strategy selector it names explicitly, plus
// the ambient poll-interval and pool-size knobs every long-running daemon
// in this corpus exposes.
type Config struct {
	DataDir   string `yaml:"dataDir"`
	LogLevel  string `yaml:"log"`
	LogFile   string `yaml:"logFile"`

	DeltaIntervalSeconds   int `yaml:"deltaIntervalSeconds"`
	OfflineIntervalSeconds int `yaml:"offlineIntervalSeconds"`
	SyncIntervalSeconds    int `yaml:"syncIntervalSeconds"`
	DownloadIntervalSeconds int `yaml:"downloadIntervalSeconds"`
	FullScanIntervalSeconds int `yaml:"fullScanIntervalSeconds"`

	// ConflictStrategy selects the ConflictResolver the sync processor uses:
	// one of "smart", "always-remote", "always-local", "manual", "newest",
	// "oldest", "largest", "smallest", "keep-both".
	ConflictStrategy string `yaml:"conflictStrategy"`

	// PoolSize is the configured database connection pool size (spec §5).
	// The bbolt-backed store opens a single database handle and does not
	// read this value.
	PoolSize int `yaml:"poolSize"`

	// SyncFolders is the allow-list of remote paths mirrored locally; an
	// empty list means "everything under root".
	SyncFolders []string `yaml:"syncFolders"`

	mu   sync.Mutex `yaml:"-"`
	path string
}

// ValidLogLevels lists the log levels the daemon accepts.
func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error", "fatal", "disabled"}
}

func defaults() Config {
	cacheDir, _ := os.UserCacheDir()
	return Config{
		DataDir:                 filepath.Join(cacheDir, "onedrivefs"),
		LogLevel:                "info",
		DeltaIntervalSeconds:    30,
		OfflineIntervalSeconds:  5,
		SyncIntervalSeconds:     10,
		DownloadIntervalSeconds: 5,
		FullScanIntervalSeconds: 3600,
		ConflictStrategy:        "smart",
		PoolSize:                100,
	}
}

// DefaultPath returns the default config file location, following XDG
// conventions the way the teacher's DefaultConfigPath does.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		logging.Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(dir, "onedrivefs", "config.yml")
}

// Load reads path, merges it over the hardcoded defaults, validates the
// result, and falls back to defaults entirely (logging why) on any error
// reading or parsing the file - a missing config must never be fatal.
func Load(path string) *Config {
	d := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("config file not found, using defaults")
		d.path = path
		return &d
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		logging.Error().Err(err).Str("path", path).Msg("could not parse config file, using defaults")
		d.path = path
		return &d
	}

	if err := mergo.Merge(cfg, d); err != nil {
		logging.Error().Err(err).Str("path", path).Msg("could not merge config with defaults, using defaults only")
		d.path = path
		return &d
	}

	cfg.path = path
	cfg.validate()
	return cfg
}

func (c *Config) validate() {
	valid := false
	for _, level := range ValidLogLevels() {
		if strings.EqualFold(c.LogLevel, level) {
			valid = true
			break
		}
	}
	if !valid {
		logging.Warn().Str("logLevel", c.LogLevel).Msg("invalid log level, using default")
		c.LogLevel = "info"
	}
	if c.DeltaIntervalSeconds <= 0 {
		c.DeltaIntervalSeconds = 30
	}
	if c.SyncIntervalSeconds <= 0 {
		c.SyncIntervalSeconds = 10
	}
	if c.DownloadIntervalSeconds <= 0 {
		c.DownloadIntervalSeconds = 5
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 100
	}
	if c.DataDir == "" {
		cacheDir, _ := os.UserCacheDir()
		c.DataDir = filepath.Join(cacheDir, "onedrivefs")
	}
}

// Save persists c back to the path it was loaded from.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(c.path, out, 0600)
}

// ListSyncFolders returns a copy of the configured sync folder allow-list.
func (c *Config) ListSyncFolders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.SyncFolders))
	copy(out, c.SyncFolders)
	return out
}

// AddSyncFolder appends path to the allow-list if it isn't already present,
// persisting the change. Returns false if path was already listed.
func (c *Config) AddSyncFolder(path string) (bool, error) {
	c.mu.Lock()
	for _, existing := range c.SyncFolders {
		if existing == path {
			c.mu.Unlock()
			return false, nil
		}
	}
	c.SyncFolders = append(c.SyncFolders, path)
	c.mu.Unlock()
	return true, c.Save()
}

// RemoveSyncFolder removes path from the allow-list, persisting the change.
// Returns false if path wasn't listed.
func (c *Config) RemoveSyncFolder(path string) (bool, error) {
	c.mu.Lock()
	idx := -1
	for i, existing := range c.SyncFolders {
		if existing == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false, nil
	}
	c.SyncFolders = append(c.SyncFolders[:idx], c.SyncFolders[idx+1:]...)
	c.mu.Unlock()
	return true, c.Save()
}
