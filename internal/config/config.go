package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MEETCAL_LISTEN or
// MEETCAL_FETCH_TIMEOUT.
const EnvPrefix = "MEETCAL"

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// FetchConfig controls calendar feed retrieval.
type FetchConfig struct {
	// Timeout bounds one source's fetch and parse.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Workers is the number of sources fetched concurrently.
	Workers int `yaml:"workers" json:"workers"`
	// Retries is the number of retries for transient HTTP failures.
	Retries int `yaml:"retries" json:"retries"`
	// CacheDir stores ETag/Last-Modified metadata and last good bodies.
	// Empty disables the disk cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" envconfig:"cache_dir"`
	// MaxOccurrences caps recurrence expansion per event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences" envconfig:"max_occurrences"`
}

// CacheConfig controls the availability cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// ErrorTTL applies to results where at least one source failed.
	ErrorTTL   time.Duration `yaml:"error_ttl" json:"error_ttl" envconfig:"error_ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries" envconfig:"max_entries"`
	// Sweep is a cron-style schedule (e.g. "*/5 * * * *") for dropping
	// expired entries.
	Sweep string `yaml:"sweep" json:"sweep"`
}

type RecommendConfig struct {
	TopN        int `yaml:"top_n" json:"top_n" envconfig:"top_n"`
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" envconfig:"horizon_days"`
}

type OverlapConfig struct {
	HorizonMonths int `yaml:"horizon_months" json:"horizon_months" envconfig:"horizon_months"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone that defines calendar days (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// DatabasePath is the SQLite file holding calendar sources and blocked periods.
	DatabasePath string `yaml:"database_path" json:"database_path" envconfig:"database_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" envconfig:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format" json:"log_format" envconfig:"log_format"`

	Fetch     FetchConfig     `yaml:"fetch" json:"fetch"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Recommend RecommendConfig `yaml:"recommend" json:"recommend"`
	Overlap   OverlapConfig   `yaml:"overlap" json:"overlap"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" ignored:"true"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Asia/Seoul",
		DatabasePath: "meetcal.db",
		LogLevel:     "info",
		LogFormat:    "console",
		Fetch: FetchConfig{
			Timeout:        5 * time.Second,
			Workers:        8,
			Retries:        2,
			MaxOccurrences: 5000,
		},
		Cache: CacheConfig{
			TTL:        10 * time.Minute,
			ErrorTTL:   time.Minute,
			MaxEntries: 1024,
			Sweep:      "*/5 * * * *",
		},
		Recommend: RecommendConfig{TopN: 5, HorizonDays: 30},
		Overlap:   OverlapConfig{HorizonMonths: 3},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.DatabasePath == "" {
		c.DatabasePath = d.DatabasePath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		c.LogFormat = d.LogFormat
	}

	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Fetch.Workers <= 0 {
		c.Fetch.Workers = d.Fetch.Workers
	}
	if c.Fetch.Retries < 0 {
		c.Fetch.Retries = 0
	}
	if c.Fetch.MaxOccurrences <= 0 {
		c.Fetch.MaxOccurrences = d.Fetch.MaxOccurrences
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.ErrorTTL <= 0 {
		c.Cache.ErrorTTL = min(d.Cache.ErrorTTL, c.Cache.TTL)
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = d.Cache.MaxEntries
	}
	if c.Cache.Sweep == "" {
		c.Cache.Sweep = d.Cache.Sweep
	}

	if c.Recommend.TopN <= 0 {
		c.Recommend.TopN = d.Recommend.TopN
	}
	if c.Recommend.HorizonDays <= 0 {
		c.Recommend.HorizonDays = d.Recommend.HorizonDays
	}
	if c.Overlap.HorizonMonths <= 0 {
		c.Overlap.HorizonMonths = d.Overlap.HorizonMonths
	}

	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// ApplyEnv overlays MEETCAL_* environment variables onto c. Variables that
// are not set leave the current value untouched.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("apply environment: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Fetch.Workers < 1 || c.Fetch.Workers > 64 {
		return fmt.Errorf("fetch.workers %d must be between 1 and 64", c.Fetch.Workers)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Cache.ErrorTTL > c.Cache.TTL {
		return fmt.Errorf("cache.error_ttl %s exceeds cache.ttl %s", c.Cache.ErrorTTL, c.Cache.TTL)
	}
	if _, err := cron.ParseStandard(c.Cache.Sweep); err != nil {
		return fmt.Errorf("cache.sweep %q: %w", c.Cache.Sweep, err)
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path and overlays the
// environment.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".meetcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
