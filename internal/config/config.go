// Package config loads the layered amanidx configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

const (
	// ProjectConfigName is the per-project configuration file.
	ProjectConfigName = ".amanidx.yaml"

	// maxBackups is the number of config backups kept by WriteYAML.
	maxBackups = 3
)

// Timestamp persistence backends.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Config is the complete amanidx configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Index      IndexConfig      `yaml:"index"`
	Store      StoreConfig      `yaml:"store"`
	TimeStamps TimeStampsConfig `yaml:"timestamps"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Watch      WatchConfig      `yaml:"watch"`
	Indexers   []string         `yaml:"indexers"`
	LogLevel   string           `yaml:"log_level"`
}

// PathsConfig controls root enumeration.
type PathsConfig struct {
	// Exclude holds doublestar patterns matched against root-relative paths.
	Exclude []string `yaml:"exclude"`
	// RespectGitignore skips files ignored by the root's .gitignore.
	RespectGitignore *bool `yaml:"respect_gitignore,omitempty"`
	// MaxFileSizeMB skips larger files.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

// IndexConfig controls where persistent indices live.
type IndexConfig struct {
	// CacheDir holds per-root indices and the timestamp store.
	CacheDir string `yaml:"cache_dir"`
	// OpenIndexes bounds how many indices stay open at once.
	OpenIndexes int `yaml:"open_indexes"`
}

// StoreConfig sizes the in-memory document batch.
type StoreConfig struct {
	CapacityMB  int `yaml:"capacity_mb"`
	MaxBufferMB int `yaml:"max_buffer_mb"`
}

// TimeStampsConfig controls archive timestamp persistence.
type TimeStampsConfig struct {
	Backend   string `yaml:"backend"`
	SaveDelay string `yaml:"save_delay"`
}

// SchedulerConfig tunes the work scheduler.
type SchedulerConfig struct {
	MemoryLimitMB   int    `yaml:"memory_limit_mb"`
	BreakerFailures int    `yaml:"breaker_failures"`
	BreakerReset    string `yaml:"breaker_reset"`
}

// WatchConfig tunes the file watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	respect := true
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Exclude: []string{
				"**/.git/**",
				"**/node_modules/**",
				"**/vendor/**",
				"**/.amanidx/**",
			},
			RespectGitignore: &respect,
			MaxFileSizeMB:    4,
		},
		Index: IndexConfig{
			CacheDir:    defaultCacheDir(),
			OpenIndexes: 16,
		},
		Store: StoreConfig{
			CapacityMB:  8,
			MaxBufferMB: 256,
		},
		TimeStamps: TimeStampsConfig{
			Backend:   BackendSQLite,
			SaveDelay: "2s",
		},
		Scheduler: SchedulerConfig{
			BreakerFailures: 5,
			BreakerReset:    "1m",
		},
		Watch: WatchConfig{
			Debounce: "200ms",
		},
		Indexers: []string{"text", "symbols"},
		LogLevel: "info",
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanidx", "cache")
	}
	return filepath.Join(home, ".amanidx", "cache")
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/amanidx/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanidx/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanidx", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanidx", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanidx", "config.yaml")
}

// Load loads configuration for the project in dir.
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/amanidx/config.yaml)
//  3. Project config (.amanidx.yaml in dir)
//  4. Environment variables (AMANIDX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if dir != "" {
		if path := filepath.Join(dir, ProjectConfigName); fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML parses path and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeConfigNotFound, "failed to read config file "+path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return amerrors.ConfigError("failed to parse config file "+path, err).
			WithSuggestion("Check the YAML syntax or regenerate it with 'amanidx config init --force'")
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = appendUnique(c.Paths.Exclude, other.Paths.Exclude...)
	}
	if other.Paths.RespectGitignore != nil {
		c.Paths.RespectGitignore = other.Paths.RespectGitignore
	}
	if other.Paths.MaxFileSizeMB != 0 {
		c.Paths.MaxFileSizeMB = other.Paths.MaxFileSizeMB
	}

	if other.Index.CacheDir != "" {
		c.Index.CacheDir = other.Index.CacheDir
	}
	if other.Index.OpenIndexes != 0 {
		c.Index.OpenIndexes = other.Index.OpenIndexes
	}

	if other.Store.CapacityMB != 0 {
		c.Store.CapacityMB = other.Store.CapacityMB
	}
	if other.Store.MaxBufferMB != 0 {
		c.Store.MaxBufferMB = other.Store.MaxBufferMB
	}

	if other.TimeStamps.Backend != "" {
		c.TimeStamps.Backend = other.TimeStamps.Backend
	}
	if other.TimeStamps.SaveDelay != "" {
		c.TimeStamps.SaveDelay = other.TimeStamps.SaveDelay
	}

	if other.Scheduler.MemoryLimitMB != 0 {
		c.Scheduler.MemoryLimitMB = other.Scheduler.MemoryLimitMB
	}
	if other.Scheduler.BreakerFailures != 0 {
		c.Scheduler.BreakerFailures = other.Scheduler.BreakerFailures
	}
	if other.Scheduler.BreakerReset != "" {
		c.Scheduler.BreakerReset = other.Scheduler.BreakerReset
	}

	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if len(other.Indexers) > 0 {
		c.Indexers = other.Indexers
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies AMANIDX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANIDX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AMANIDX_CACHE_DIR"); v != "" {
		c.Index.CacheDir = v
	}
	if v := os.Getenv("AMANIDX_TIMESTAMPS_BACKEND"); v != "" {
		c.TimeStamps.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("AMANIDX_SAVE_DELAY"); v != "" {
		c.TimeStamps.SaveDelay = v
	}
	if v := os.Getenv("AMANIDX_STORE_CAPACITY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Store.CapacityMB = n
		}
	}
	if v := os.Getenv("AMANIDX_INDEXERS"); v != "" {
		c.Indexers = splitList(v)
	}
}

// Validate returns an error describing the first invalid setting.
func (c *Config) Validate() error {
	if c.Store.CapacityMB <= 0 {
		return amerrors.ConfigError(fmt.Sprintf("store.capacity_mb must be positive, got %d", c.Store.CapacityMB), nil)
	}
	if c.Store.MaxBufferMB < c.Store.CapacityMB {
		return amerrors.ConfigError(fmt.Sprintf("store.max_buffer_mb (%d) must be at least store.capacity_mb (%d)",
			c.Store.MaxBufferMB, c.Store.CapacityMB), nil)
	}
	if c.Index.OpenIndexes <= 0 {
		return amerrors.ConfigError(fmt.Sprintf("index.open_indexes must be positive, got %d", c.Index.OpenIndexes), nil)
	}
	switch c.TimeStamps.Backend {
	case BackendSQLite, BackendPebble:
	default:
		return amerrors.ConfigError("timestamps.backend must be 'sqlite' or 'pebble', got "+c.TimeStamps.Backend, nil)
	}
	for name, v := range map[string]string{
		"timestamps.save_delay":   c.TimeStamps.SaveDelay,
		"scheduler.breaker_reset": c.Scheduler.BreakerReset,
		"watch.debounce":          c.Watch.Debounce,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return amerrors.ConfigError(fmt.Sprintf("%s is not a duration: %q", name, v), err)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return amerrors.ConfigError("log_level must be 'debug', 'info', 'warn', or 'error', got "+c.LogLevel, nil)
	}
	return nil
}

// SaveDelay returns the parsed timestamp save delay.
func (c *Config) SaveDelay() time.Duration {
	return mustDuration(c.TimeStamps.SaveDelay, 2*time.Second)
}

// WatchDebounce returns the parsed watcher debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return mustDuration(c.Watch.Debounce, 200*time.Millisecond)
}

// BreakerReset returns the parsed circuit breaker reset timeout.
func (c *Config) BreakerReset() time.Duration {
	return mustDuration(c.Scheduler.BreakerReset, time.Minute)
}

// StoreCapacityBytes returns the document batch flush threshold in bytes.
func (c *Config) StoreCapacityBytes() int {
	return c.Store.CapacityMB << 20
}

// MaxBufferBytes returns the document arena limit in bytes.
func (c *Config) MaxBufferBytes() int {
	return c.Store.MaxBufferMB << 20
}

// GitignoreEnabled reports whether .gitignore files are honored.
func (c *Config) GitignoreEnabled() bool {
	return c.Paths.RespectGitignore == nil || *c.Paths.RespectGitignore
}

// WriteYAML writes the configuration to path. An existing file is backed
// up first; only the newest backups are kept.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if fileExists(path) {
		if err := backupFile(path, time.Now()); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return amerrors.New(amerrors.ErrCodeConfigPermission, "failed to write config file "+path, err)
	}
	return nil
}

// backupFile copies path to path.bak.<timestamp> and prunes old backups.
func backupFile(path string, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config for backup: %w", err)
	}
	backup := fmt.Sprintf("%s.bak.%s", path, now.Format("20060102-150405.000"))
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	backups, _ := filepath.Glob(path + ".bak.*")
	// Timestamps sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	for _, old := range backups[min(len(backups), maxBackups):] {
		_ = os.Remove(old)
	}
	return nil
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
