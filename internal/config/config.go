// Package config loads wikisearch configuration from defaults, YAML files and
// WIKISEARCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// FileName is the project-level configuration file.
const FileName = "wikisearch.yaml"

// Config is the complete wikisearch configuration.
type Config struct {
	Index    IndexConfig    `yaml:"index" json:"index"`
	Indexing IndexingConfig `yaml:"indexing" json:"indexing"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Source   SourceConfig   `yaml:"source" json:"source"`
	Serve    ServeConfig    `yaml:"serve" json:"serve"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// IndexConfig names the index directories. The first directory is written by
// this process; the rest are searched read-only.
type IndexConfig struct {
	Dirs     []string `yaml:"dirs" json:"dirs"`
	Analyzer string   `yaml:"analyzer" json:"analyzer"`
	// WatchDebounce coalesces CURRENT changes in foreign directories.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// IndexingConfig tunes the background worker.
type IndexingConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CommitDelay is the idle time after which a partial batch is committed.
	CommitDelay         string `yaml:"commit_delay" json:"commit_delay"`
	ExtractionCacheSize int    `yaml:"extraction_cache_size" json:"extraction_cache_size"`
}

// SearchConfig tunes query handling.
type SearchConfig struct {
	MaxResults      int    `yaml:"max_results" json:"max_results"`
	DefaultOperator string `yaml:"default_operator" json:"default_operator"`
}

// SourceConfig points at the content database used for rebuilds.
type SourceConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ServeConfig configures the socket a serving process listens on.
type ServeConfig struct {
	Socket string `yaml:"socket" json:"socket"`
	// Timeout bounds one client request.
	Timeout string `yaml:"timeout" json:"timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

var validAnalyzers = map[string]bool{"standard": true, "simple": true, "en": true, "keyword": true}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Dirs:          []string{filepath.Join(".wikisearch", "index")},
			Analyzer:      "standard",
			WatchDebounce: "200ms",
		},
		Indexing: IndexingConfig{
			BatchSize:           100,
			CommitDelay:         "1s",
			ExtractionCacheSize: 256,
		},
		Search: SearchConfig{
			MaxResults:      20,
			DefaultOperator: "OR",
		},
		Source: SourceConfig{
			Path: filepath.Join(".wikisearch", "content.db"),
		},
		Serve: ServeConfig{
			Socket:  filepath.Join(".wikisearch", "serve.sock"),
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/wikisearch/config.yaml, or
// ~/.config/wikisearch/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wikisearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "wikisearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "wikisearch", "config.yaml")
}

// Load builds the configuration for the project rooted at dir, in order of
// increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/wikisearch/config.yaml)
//  3. Project config (wikisearch.yaml or wikisearch.yml in dir)
//  4. Environment variables (WIKISEARCH_*)
//
// Relative paths are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{FileName, "wikisearch.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return wserrors.New(wserrors.ErrCodeConfigNotFound, fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return wserrors.ConfigurationError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if len(other.Index.Dirs) > 0 {
		c.Index.Dirs = other.Index.Dirs
	}
	if other.Index.Analyzer != "" {
		c.Index.Analyzer = other.Index.Analyzer
	}
	if other.Index.WatchDebounce != "" {
		c.Index.WatchDebounce = other.Index.WatchDebounce
	}

	if other.Indexing.BatchSize != 0 {
		c.Indexing.BatchSize = other.Indexing.BatchSize
	}
	if other.Indexing.CommitDelay != "" {
		c.Indexing.CommitDelay = other.Indexing.CommitDelay
	}
	if other.Indexing.ExtractionCacheSize != 0 {
		c.Indexing.ExtractionCacheSize = other.Indexing.ExtractionCacheSize
	}

	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.DefaultOperator != "" {
		c.Search.DefaultOperator = other.Search.DefaultOperator
	}

	if other.Source.Path != "" {
		c.Source.Path = other.Source.Path
	}

	if other.Serve.Socket != "" {
		c.Serve.Socket = other.Serve.Socket
	}
	if other.Serve.Timeout != "" {
		c.Serve.Timeout = other.Serve.Timeout
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies WIKISEARCH_* variables. Empty values are ignored,
// as are numbers that do not parse.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WIKISEARCH_INDEX_DIRS"); v != "" {
		c.Index.Dirs = SplitList(v)
	}
	if v := os.Getenv("WIKISEARCH_ANALYZER"); v != "" {
		c.Index.Analyzer = v
	}
	if v := os.Getenv("WIKISEARCH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Indexing.BatchSize = n
		}
	}
	if v := os.Getenv("WIKISEARCH_COMMIT_DELAY"); v != "" {
		c.Indexing.CommitDelay = v
	}
	if v := os.Getenv("WIKISEARCH_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("WIKISEARCH_DEFAULT_OPERATOR"); v != "" {
		c.Search.DefaultOperator = v
	}
	if v := os.Getenv("WIKISEARCH_SOURCE"); v != "" {
		c.Source.Path = v
	}
	if v := os.Getenv("WIKISEARCH_SOCKET"); v != "" {
		c.Serve.Socket = v
	}
	if v := os.Getenv("WIKISEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) resolvePaths(dir string) {
	dirs := make([]string, 0, len(c.Index.Dirs))
	for _, d := range c.Index.Dirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(dir, d)
		}
		dirs = append(dirs, filepath.Clean(d))
	}
	c.Index.Dirs = dirs

	if c.Source.Path != "" && !filepath.IsAbs(c.Source.Path) {
		c.Source.Path = filepath.Join(dir, c.Source.Path)
	}
	if c.Serve.Socket != "" && !filepath.IsAbs(c.Serve.Socket) {
		c.Serve.Socket = filepath.Join(dir, c.Serve.Socket)
	}
	if c.Logging.File != "" && !filepath.IsAbs(c.Logging.File) {
		c.Logging.File = filepath.Join(dir, c.Logging.File)
	}
}

// Validate checks the configuration. Every failure is a ConfigurationError.
func (c *Config) Validate() error {
	if len(c.Index.Dirs) == 0 {
		return wserrors.New(wserrors.ErrCodeNoIndexDirs, "no index directory configured", nil).
			WithSuggestion("set index.dirs in " + FileName + " or WIKISEARCH_INDEX_DIRS")
	}
	if !validAnalyzers[strings.ToLower(c.Index.Analyzer)] {
		return wserrors.ConfigurationError(
			fmt.Sprintf("index.analyzer must be 'standard', 'simple', 'en' or 'keyword', got %s", c.Index.Analyzer), nil)
	}
	if c.Indexing.BatchSize <= 0 {
		return wserrors.ConfigurationError(fmt.Sprintf("indexing.batch_size must be positive, got %d", c.Indexing.BatchSize), nil)
	}
	if _, err := c.CommitDelay(); err != nil {
		return wserrors.ConfigurationError("indexing.commit_delay is not a valid duration", err)
	}
	if _, err := c.WatchDebounce(); err != nil {
		return wserrors.ConfigurationError("index.watch_debounce is not a valid duration", err)
	}
	if d, err := parseDuration(c.Serve.Timeout); err != nil || d == 0 {
		return wserrors.ConfigurationError("serve.timeout must be a positive duration", err)
	}
	if c.Indexing.ExtractionCacheSize < 0 {
		return wserrors.ConfigurationError("indexing.extraction_cache_size must be non-negative", nil)
	}
	if c.Search.MaxResults < 0 {
		return wserrors.ConfigurationError(fmt.Sprintf("search.max_results must be non-negative, got %d", c.Search.MaxResults), nil)
	}
	switch strings.ToUpper(c.Search.DefaultOperator) {
	case "AND", "OR":
	default:
		return wserrors.ConfigurationError(
			fmt.Sprintf("search.default_operator must be 'AND' or 'OR', got %s", c.Search.DefaultOperator), nil)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return wserrors.ConfigurationError(
			fmt.Sprintf("logging.level must be 'debug', 'info', 'warn' or 'error', got %s", c.Logging.Level), nil)
	}
	return nil
}

// CommitDelay parses Indexing.CommitDelay.
func (c *Config) CommitDelay() (time.Duration, error) {
	return parseDuration(c.Indexing.CommitDelay)
}

// WatchDebounce parses Index.WatchDebounce.
func (c *Config) WatchDebounce() (time.Duration, error) {
	return parseDuration(c.Index.WatchDebounce)
}

// ServeTimeout parses Serve.Timeout.
func (c *Config) ServeTimeout() time.Duration {
	d, _ := parseDuration(c.Serve.Timeout)
	return d
}

// WriterDir is the directory this process writes to.
func (c *Config) WriterDir() string {
	if len(c.Index.Dirs) == 0 {
		return ""
	}
	return c.Index.Dirs[0]
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SplitList splits a comma-separated list, trimming blanks and dropping empties.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
