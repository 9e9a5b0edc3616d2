// Package config loads metafind configuration from defaults, the user config
// file, a project config file and METAFIND_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/format"
	"github.com/Aman-CERP/metafind/internal/harvest"
	"github.com/Aman-CERP/metafind/internal/logging"
	"github.com/Aman-CERP/metafind/internal/store"
)

// CurrentVersion is the config schema version written by WriteYAML.
const CurrentVersion = 1

// Project config file names, in lookup order.
var projectFiles = []string{".metafind.yaml", ".metafind.yml"}

// Config is the effective metafind configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Output  OutputConfig  `yaml:"output" json:"output"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Sources lists the files merged into this config, lowest precedence first.
	Sources []string `yaml:"-" json:"-"`
}

// IndexConfig selects where items are stored.
type IndexConfig struct {
	Backend string   `yaml:"backend" json:"backend"`
	Path    string   `yaml:"path" json:"path"`
	Roots   []string `yaml:"roots,omitempty" json:"roots,omitempty"`
}

// HarvestConfig controls what the harvester walks and records.
type HarvestConfig struct {
	Exclude        []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	IncludeHidden  bool     `yaml:"include_hidden" json:"include_hidden"`
	FollowSymlinks bool     `yaml:"follow_symlinks" json:"follow_symlinks"`
	DigestMaxBytes int64    `yaml:"digest_max_bytes" json:"digest_max_bytes"`
	Workers        int      `yaml:"workers" json:"workers"`
	SkipArchives   bool     `yaml:"skip_archives" json:"skip_archives"`
	Volume         string   `yaml:"volume,omitempty" json:"volume,omitempty"`
}

// SearchConfig holds search run defaults.
type SearchConfig struct {
	Limit     int    `yaml:"limit" json:"limit"`           // 0 = unlimited
	BatchSize int    `yaml:"batch_size" json:"batch_size"` // items per engine batch
	Live      bool   `yaml:"live" json:"live"`
	Debounce  string `yaml:"debounce" json:"debounce"` // live mode event window
}

// OutputConfig holds result formatting defaults.
type OutputConfig struct {
	Format           string `yaml:"format" json:"format"`
	DisplayAttribute string `yaml:"display_attribute" json:"display_attribute"`
	Bytes            string `yaml:"bytes" json:"bytes"`
	ItemTag          string `yaml:"item_tag" json:"item_tag"`
}

// LoggingConfig holds the stderr log level used without --debug.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Index: IndexConfig{
			Backend: string(store.BackendBleve),
			Path:    DefaultIndexPath(),
		},
		Harvest: HarvestConfig{
			Exclude:        slices.Clone(harvest.DefaultExclude),
			DigestMaxBytes: harvest.DefaultDigestMaxBytes,
		},
		Search: SearchConfig{
			BatchSize: 100,
			Debounce:  "200ms",
		},
		Output: OutputConfig{
			Format:           format.PlainText.String(),
			DisplayAttribute: format.DefaultDisplayAttribute,
			Bytes:            format.BytesBase64.String(),
			ItemTag:          format.DefaultItemTag,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// DefaultIndexPath returns ~/.metafind/index.
func DefaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".metafind", "index")
	}
	return filepath.Join(home, ".metafind", "index")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/metafind/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/metafind/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "metafind", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "metafind", "config.yaml")
	}
	return filepath.Join(home, ".config", "metafind", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration for dir. Sources apply in order of
// increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/metafind/config.yaml)
//  3. Project config (.metafind.yaml in dir or the nearest parent)
//  4. Environment variables (METAFIND_*)
//
// Command-line flags are applied by the caller on top of the result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, mferrors.ConfigError("failed to load user config", err).
				WithDetail("path", userPath)
		}
	}

	if projectPath, ok := FindProjectConfig(dir); ok {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, mferrors.ConfigError("failed to load project config", err).
				WithDetail("path", projectPath)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, mferrors.ConfigError("invalid environment override", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, mferrors.ConfigError("invalid configuration", err).
			WithSuggestion("Run 'metafind config show' to inspect the effective configuration")
	}
	return cfg, nil
}

// FindProjectConfig walks up from startDir and returns the first project
// config file found.
func FindProjectConfig(startDir string) (string, bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for {
		for _, name := range projectFiles {
			candidate := filepath.Join(dir, name)
			if fileExists(candidate) {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// loadYAML merges a YAML file into c. Relative index paths and roots are
// resolved against the file's directory.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	parsed.resolvePaths(filepath.Dir(path))

	c.mergeWith(&parsed)
	c.Sources = append(c.Sources, path)
	return nil
}

func (c *Config) resolvePaths(base string) {
	if c.Index.Path != "" {
		c.Index.Path = resolvePath(base, c.Index.Path)
	}
	for i, root := range c.Index.Roots {
		c.Index.Roots[i] = resolvePath(base, root)
	}
}

func resolvePath(base, p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Index
	if other.Index.Backend != "" {
		c.Index.Backend = other.Index.Backend
	}
	if other.Index.Path != "" {
		c.Index.Path = other.Index.Path
	}
	if len(other.Index.Roots) > 0 {
		c.Index.Roots = other.Index.Roots
	}

	// Harvest; excludes add to the defaults rather than replace them
	for _, pattern := range other.Harvest.Exclude {
		if !slices.Contains(c.Harvest.Exclude, pattern) {
			c.Harvest.Exclude = append(c.Harvest.Exclude, pattern)
		}
	}
	if other.Harvest.IncludeHidden {
		c.Harvest.IncludeHidden = true
	}
	if other.Harvest.FollowSymlinks {
		c.Harvest.FollowSymlinks = true
	}
	if other.Harvest.DigestMaxBytes != 0 {
		c.Harvest.DigestMaxBytes = other.Harvest.DigestMaxBytes
	}
	if other.Harvest.Workers != 0 {
		c.Harvest.Workers = other.Harvest.Workers
	}
	if other.Harvest.SkipArchives {
		c.Harvest.SkipArchives = true
	}
	if other.Harvest.Volume != "" {
		c.Harvest.Volume = other.Harvest.Volume
	}

	// Search
	if other.Search.Limit != 0 {
		c.Search.Limit = other.Search.Limit
	}
	if other.Search.BatchSize != 0 {
		c.Search.BatchSize = other.Search.BatchSize
	}
	if other.Search.Live {
		c.Search.Live = true
	}
	if other.Search.Debounce != "" {
		c.Search.Debounce = other.Search.Debounce
	}

	// Output
	if other.Output.Format != "" {
		c.Output.Format = other.Output.Format
	}
	if other.Output.DisplayAttribute != "" {
		c.Output.DisplayAttribute = other.Output.DisplayAttribute
	}
	if other.Output.Bytes != "" {
		c.Output.Bytes = other.Output.Bytes
	}
	if other.Output.ItemTag != "" {
		c.Output.ItemTag = other.Output.ItemTag
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// applyEnvOverrides applies METAFIND_* environment variable overrides.
// Unlike file values, env values can set numbers back to zero.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("METAFIND_BACKEND"); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv("METAFIND_INDEX"); v != "" {
		cwd, _ := os.Getwd()
		c.Index.Path = resolvePath(cwd, v)
	}
	if v := os.Getenv("METAFIND_ROOTS"); v != "" {
		c.Index.Roots = filepath.SplitList(v)
	}
	if v := os.Getenv("METAFIND_INCLUDE_HIDDEN"); v != "" {
		c.Harvest.IncludeHidden = parseBool(v)
	}
	if v := os.Getenv("METAFIND_FOLLOW_SYMLINKS"); v != "" {
		c.Harvest.FollowSymlinks = parseBool(v)
	}
	if v := os.Getenv("METAFIND_SKIP_ARCHIVES"); v != "" {
		c.Harvest.SkipArchives = parseBool(v)
	}
	if v := os.Getenv("METAFIND_VOLUME"); v != "" {
		c.Harvest.Volume = v
	}
	if v := os.Getenv("METAFIND_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("METAFIND_WORKERS: %w", err)
		}
		c.Harvest.Workers = n
	}
	if v := os.Getenv("METAFIND_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("METAFIND_LIMIT: %w", err)
		}
		c.Search.Limit = n
	}
	if v := os.Getenv("METAFIND_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("METAFIND_BATCH_SIZE: %w", err)
		}
		c.Search.BatchSize = n
	}
	if v := os.Getenv("METAFIND_LIVE"); v != "" {
		c.Search.Live = parseBool(v)
	}
	if v := os.Getenv("METAFIND_DEBOUNCE"); v != "" {
		c.Search.Debounce = v
	}
	if v := os.Getenv("METAFIND_FORMAT"); v != "" {
		c.Output.Format = v
	}
	if v := os.Getenv("METAFIND_DISPLAY_ATTRIBUTE"); v != "" {
		c.Output.DisplayAttribute = v
	}
	if v := os.Getenv("METAFIND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := store.ParseBackend(c.Index.Backend); err != nil {
		return fmt.Errorf("index.backend: %w", err)
	}
	if c.Index.Path == "" {
		return fmt.Errorf("index.path must not be empty")
	}
	if c.Harvest.Workers < 0 {
		return fmt.Errorf("harvest.workers must be non-negative, got %d", c.Harvest.Workers)
	}
	if c.Search.Limit < 0 {
		return fmt.Errorf("search.limit must be non-negative, got %d", c.Search.Limit)
	}
	if c.Search.BatchSize < 0 {
		return fmt.Errorf("search.batch_size must be non-negative, got %d", c.Search.BatchSize)
	}
	if d, err := time.ParseDuration(c.Search.Debounce); err != nil || d < 0 {
		return fmt.Errorf("search.debounce must be a non-negative duration, got %q", c.Search.Debounce)
	}
	if _, err := format.Parse(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if _, err := format.ParseBytesPolicy(c.Output.Bytes); err != nil {
		return fmt.Errorf("output.bytes: %w", err)
	}
	if c.Output.ItemTag != "" && format.EncodeName(c.Output.ItemTag) != c.Output.ItemTag {
		return fmt.Errorf("output.item_tag must be a valid XML name, got %q", c.Output.ItemTag)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// Backend returns the parsed index backend.
func (c *Config) Backend() store.Backend {
	b, err := store.ParseBackend(c.Index.Backend)
	if err != nil {
		return store.BackendBleve
	}
	return b
}

// DebounceDuration returns the parsed live mode debounce window.
func (c *Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Search.Debounce)
	if err != nil {
		return 0
	}
	return d
}

// OutputFormat returns the parsed output format.
func (c *Config) OutputFormat() format.Format {
	f, _ := format.Parse(c.Output.Format)
	return f
}

// Formatter returns a formatter configured from the output section.
func (c *Config) Formatter() *format.Formatter {
	f := format.NewFormatter()
	if c.Output.DisplayAttribute != "" {
		f.DisplayAttribute = c.Output.DisplayAttribute
	}
	if policy, err := format.ParseBytesPolicy(c.Output.Bytes); err == nil {
		f.Bytes = policy
	}
	if c.Output.ItemTag != "" {
		f.ItemTag = c.Output.ItemTag
	}
	return f
}

// HarvestOptions returns harvester options for roots. When roots is empty
// the configured index roots are used.
func (c *Config) HarvestOptions(roots []string) harvest.Options {
	if len(roots) == 0 {
		roots = c.Index.Roots
	}
	return harvest.Options{
		Roots:          roots,
		Exclude:        c.Harvest.Exclude,
		IncludeHidden:  c.Harvest.IncludeHidden,
		FollowSymlinks: c.Harvest.FollowSymlinks,
		DigestMaxBytes: c.Harvest.DigestMaxBytes,
		Workers:        c.Harvest.Workers,
		SkipArchives:   c.Harvest.SkipArchives,
		Volume:         c.Harvest.Volume,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
