// ABOUTME: Client configuration loaded from XDG config, .env files, and environment overrides
// ABOUTME: Selects the backend, default project, health profile, cache, and log level
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/harperreed/huddle/health"
)

const (
	// AppName names the XDG directories.
	AppName = "huddle"

	// ConfigFileName is the config file under the XDG config home.
	ConfigFileName = "config.yaml"

	// DefaultBackendURL is the locally served development backend.
	DefaultBackendURL = "http://localhost:54321"

	DefaultBackendAddr = ":54321"
)

// CacheConfig controls the offline snapshot cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxAge  time.Duration `yaml:"max_age"`
}

// BackendConfig controls the `huddle backend` development server.
type BackendConfig struct {
	Addr string `yaml:"addr"`
	// Database defaults to backend.db under the data directory.
	Database      string        `yaml:"database"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// Config holds every client setting.
type Config struct {
	BackendURL string `yaml:"backend_url"`
	APIKey     string `yaml:"api_key"`
	Email      string `yaml:"email"`
	Project    string `yaml:"project"`

	// Mobile selects the mobile health profile.
	Mobile         bool   `yaml:"mobile"`
	RecoverPartial bool   `yaml:"recover_partial"`
	LogLevel       string `yaml:"log_level"`
	DataDir        string `yaml:"data_dir"`

	// Health overrides individual profile timings when non-zero.
	Health health.Config `yaml:"health"`

	Cache   CacheConfig   `yaml:"cache"`
	Backend BackendConfig `yaml:"backend"`
}

// DefaultConfig returns the settings used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		BackendURL: DefaultBackendURL,
		LogLevel:   "info",
		DataDir:    DefaultDataDir(),
		Cache: CacheConfig{
			Enabled: true,
			MaxAge:  7 * 24 * time.Hour,
		},
		Backend: BackendConfig{
			Addr:          DefaultBackendAddr,
			WatchInterval: time.Second,
		},
	}
}

// DefaultDataDir is where session, cache, and backend files live.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Path returns the config file location.
func Path() string {
	return filepath.Join(xdg.ConfigHome, AppName, ConfigFileName)
}

// Load reads .env from the working directory, then the config file at
// path, then environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from HUDDLE_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"HUDDLE_BACKEND_URL": &c.BackendURL,
		"HUDDLE_API_KEY":     &c.APIKey,
		"HUDDLE_EMAIL":       &c.Email,
		"HUDDLE_PROJECT":     &c.Project,
		"HUDDLE_LOG_LEVEL":   &c.LogLevel,
		"HUDDLE_DATA_DIR":    &c.DataDir,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"HUDDLE_MOBILE":          &c.Mobile,
		"HUDDLE_RECOVER_PARTIAL": &c.RecoverPartial,
	}
	for key, dst := range flags {
		v := getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend_url %q", c.BackendURL)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	return nil
}

// HealthConfig resolves the monitor timing: the selected profile, then
// per-field overrides, then the recovery policy.
func (c *Config) HealthConfig() health.Config {
	cfg := health.DesktopProfile()
	if c.Mobile {
		cfg = health.MobileProfile()
	}
	if c.Health.CheckInterval > 0 {
		cfg.CheckInterval = c.Health.CheckInterval
	}
	if c.Health.OnlineSettle > 0 {
		cfg.OnlineSettle = c.Health.OnlineSettle
	}
	if c.Health.VisibleDelay > 0 {
		cfg.VisibleDelay = c.Health.VisibleDelay
	}
	if c.Health.Heartbeat > 0 {
		cfg.Heartbeat = c.Health.Heartbeat
	}
	cfg.RecoverPartial = c.RecoverPartial || c.Health.RecoverPartial
	return cfg
}

// CacheDir is the badger directory for snapshots.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// BackendDatabase is the SQLite file served by `huddle backend`.
func (c *Config) BackendDatabase() string {
	if c.Backend.Database != "" {
		return c.Backend.Database
	}
	return filepath.Join(c.DataDir, "backend.db")
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.APIKey != "" {
		out.APIKey = strings.Repeat("*", 8)
	}
	return out
}
