package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// isolate points the user config at an empty location so the developer's own
// ~/.config does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "standard", cfg.Index.Analyzer)
	assert.Equal(t, 100, cfg.Indexing.BatchSize)
	assert.Equal(t, "OR", cfg.Search.DefaultOperator)
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, "info", cfg.Logging.Level)
	d, err := cfg.CommitDelay()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestLoad_NoConfigFile_ResolvesDefaultsAgainstDir(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, ".wikisearch", "index")}, cfg.Index.Dirs)
	assert.Equal(t, filepath.Join(dir, ".wikisearch", "content.db"), cfg.Source.Path)
	assert.Equal(t, cfg.Index.Dirs[0], cfg.WriterDir())
	assert.Equal(t, filepath.Join(dir, ".wikisearch", "serve.sock"), cfg.Serve.Socket)
	assert.Equal(t, 30*time.Second, cfg.ServeTimeout())
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	// Given: a project config with two directories and a custom batch size
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, dir, FileName, `
index:
  dirs: [main, /shared/other]
  analyzer: en
indexing:
  batch_size: 7
  commit_delay: 250ms
search:
  default_operator: AND
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: values are merged and relative dirs resolved
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "main"), "/shared/other"}, cfg.Index.Dirs)
	assert.Equal(t, "en", cfg.Index.Analyzer)
	assert.Equal(t, 7, cfg.Indexing.BatchSize)
	assert.Equal(t, "AND", cfg.Search.DefaultOperator)
	d, _ := cfg.CommitDelay()
	assert.Equal(t, 250*time.Millisecond, d)
	assert.Equal(t, 20, cfg.Search.MaxResults, "unset values keep defaults")
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, dir, "wikisearch.yml", "indexing:\n  batch_size: 3\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Indexing.BatchSize)
}

func TestLoad_UserConfigThenProjectConfig(t *testing.T) {
	// Given: a user config and a project config setting different fields
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "wikisearch"), 0o755))
	writeConfig(t, filepath.Join(xdg, "wikisearch"), "config.yaml", "search:\n  max_results: 5\nindexing:\n  batch_size: 9\n")
	dir := t.TempDir()
	writeConfig(t, dir, FileName, "indexing:\n  batch_size: 11\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 11, cfg.Indexing.BatchSize)
}

func TestLoad_InvalidYaml_ReturnsConfigurationError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, dir, FileName, "index: [not: a map")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Equal(t, wserrors.ErrCodeConfigInvalid, wserrors.GetCode(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, dir, FileName, "indexing:\n  batch_size: 3\n")
	t.Setenv("WIKISEARCH_INDEX_DIRS", " a , ,b ")
	t.Setenv("WIKISEARCH_BATCH_SIZE", "42")
	t.Setenv("WIKISEARCH_LOG_LEVEL", "debug")
	t.Setenv("WIKISEARCH_MAX_RESULTS", "not-a-number")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}, cfg.Index.Dirs)
	assert.Equal(t, 42, cfg.Indexing.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 20, cfg.Search.MaxResults)
}

func TestValidate_NoDirs_IsFatalConfigurationError(t *testing.T) {
	cfg := NewConfig()
	cfg.Index.Dirs = nil

	err := cfg.Validate()

	require.Error(t, err)
	assert.Equal(t, wserrors.ErrCodeNoIndexDirs, wserrors.GetCode(err))
	assert.True(t, wserrors.IsFatal(err))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"analyzer", func(c *Config) { c.Index.Analyzer = "klingon" }},
		{"batch size", func(c *Config) { c.Indexing.BatchSize = 0 }},
		{"commit delay", func(c *Config) { c.Indexing.CommitDelay = "soon" }},
		{"operator", func(c *Config) { c.Search.DefaultOperator = "XOR" }},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"max results", func(c *Config) { c.Search.MaxResults = -1 }},
		{"serve timeout", func(c *Config) { c.Serve.Timeout = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, wserrors.CategoryConfig, wserrors.GetCategory(err))
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Indexing.BatchSize = 33

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, FileName)))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 33, loaded.Indexing.BatchSize)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, b ,,"))
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , "))
}
