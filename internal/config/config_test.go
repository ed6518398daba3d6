package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// isolate points the user config lookup at an empty temp dir.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"AMANIDX_LOG_LEVEL", "AMANIDX_CACHE_DIR", "AMANIDX_TIMESTAMPS_BACKEND",
		"AMANIDX_SAVE_DELAY", "AMANIDX_STORE_CAPACITY_MB", "AMANIDX_INDEXERS"} {
		t.Setenv(k, "")
	}
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
	assert.True(t, cfg.GitignoreEnabled())
	assert.Equal(t, 16, cfg.Index.OpenIndexes)
	assert.Equal(t, 8<<20, cfg.StoreCapacityBytes())
	assert.Equal(t, 256<<20, cfg.MaxBufferBytes())
	assert.Equal(t, BackendSQLite, cfg.TimeStamps.Backend)
	assert.Equal(t, 2*time.Second, cfg.SaveDelay())
	assert.Equal(t, 200*time.Millisecond, cfg.WatchDebounce())
	assert.Equal(t, time.Minute, cfg.BreakerReset())
	assert.Equal(t, []string{"text", "symbols"}, cfg.Indexers)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	// Given: a user config and a project config
	isolate(t)
	userDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "amanidx")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(`
timestamps:
  backend: pebble
  save_delay: 5s
log_level: warn
`), 0o644))

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectConfigName), []byte(`
paths:
  exclude: ["**/testdata/**"]
  respect_gitignore: false
store:
  capacity_mb: 2
timestamps:
  save_delay: 100ms
`), 0o644))

	// When: loading
	cfg, err := Load(project)
	require.NoError(t, err)

	// Then: project wins where set, user config fills the rest
	assert.Equal(t, BackendPebble, cfg.TimeStamps.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.SaveDelay())
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Store.CapacityMB)
	assert.False(t, cfg.GitignoreEnabled())
	assert.Contains(t, cfg.Paths.Exclude, "**/testdata/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	isolate(t)
	t.Setenv("AMANIDX_TIMESTAMPS_BACKEND", "PEBBLE")
	t.Setenv("AMANIDX_STORE_CAPACITY_MB", "3")
	t.Setenv("AMANIDX_CACHE_DIR", "/tmp/amanidx-cache")
	t.Setenv("AMANIDX_INDEXERS", "text, symbols ,")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, BackendPebble, cfg.TimeStamps.Backend)
	assert.Equal(t, 3, cfg.Store.CapacityMB)
	assert.Equal(t, "/tmp/amanidx-cache", cfg.Index.CacheDir)
	assert.Equal(t, []string{"text", "symbols"}, cfg.Indexers)
}

func TestLoad_InvalidYAMLReturnsConfigError(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectConfigName), []byte("store: [oops"), 0o644))

	_, err := Load(project)

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Store.CapacityMB = 0 }},
		{"buffer below capacity", func(c *Config) { c.Store.MaxBufferMB = 1; c.Store.CapacityMB = 2 }},
		{"unknown backend", func(c *Config) { c.TimeStamps.Backend = "bolt" }},
		{"bad delay", func(c *Config) { c.TimeStamps.SaveDelay = "soon" }},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "1 minute" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"no open indexes", func(c *Config) { c.Index.OpenIndexes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAML_RoundTripsAndBacksUp(t *testing.T) {
	// Given: a config written twice to the same path
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigName)
	cfg := NewConfig()
	cfg.TimeStamps.Backend = BackendPebble
	require.NoError(t, cfg.WriteYAML(path))
	require.NoError(t, cfg.WriteYAML(path))

	// Then: the file loads back and the first version was backed up
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, BackendPebble, loaded.TimeStamps.Backend)

	backups, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestBackupFile_KeepsNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, backupFile(path, base.Add(time.Duration(i)*time.Second)))
	}

	backups, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	assert.Len(t, backups, maxBackups)
	assert.Contains(t, backups, path+".bak.20260101-000004.000")
}
