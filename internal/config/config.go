// Package config loads the nodepool operator configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Policy   PolicyConfig   `toml:"policy"`
	Meshview MeshviewConfig `toml:"meshview"`
	Session  SessionConfig  `toml:"session"`
	Admin    AdminConfig    `toml:"admin"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type PolicyConfig struct {
	HopLimit              int    `toml:"hop_limit"`
	Region                string `toml:"region"`
	RequireSerialDisabled bool   `toml:"require_serial_disabled"`
}

type MeshviewConfig struct {
	URL        string `toml:"url"`
	DaysActive int    `toml:"days_active"`
}

type SessionConfig struct {
	SetupTimeoutSeconds int `toml:"setup_timeout_seconds"`
	DialTimeoutSeconds  int `toml:"dial_timeout_seconds"`
}

type AdminConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	Retries        int `toml:"retries"`
}

func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: defaultDBPath()},
		Policy: PolicyConfig{
			HopLimit:              3,
			Region:                "US",
			RequireSerialDisabled: true,
		},
		Meshview: MeshviewConfig{DaysActive: 14},
		Session:  SessionConfig{SetupTimeoutSeconds: 10, DialTimeoutSeconds: 5},
		Admin:    AdminConfig{TimeoutSeconds: 30, Retries: 2},
	}
}

// Load reads path and fills unset fields with defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg = cfg.withDefaults()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	def := Default()
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Policy.HopLimit == 0 {
		c.Policy.HopLimit = def.Policy.HopLimit
	}
	if c.Policy.Region == "" {
		c.Policy.Region = def.Policy.Region
	}
	if c.Meshview.DaysActive == 0 {
		c.Meshview.DaysActive = def.Meshview.DaysActive
	}
	if c.Session.SetupTimeoutSeconds == 0 {
		c.Session.SetupTimeoutSeconds = def.Session.SetupTimeoutSeconds
	}
	if c.Session.DialTimeoutSeconds == 0 {
		c.Session.DialTimeoutSeconds = def.Session.DialTimeoutSeconds
	}
	if c.Admin.TimeoutSeconds == 0 {
		c.Admin.TimeoutSeconds = def.Admin.TimeoutSeconds
	}
	if c.Admin.Retries == 0 {
		c.Admin.Retries = def.Admin.Retries
	}
	return c
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return fmt.Errorf("config missing database path")
	}
	if cfg.Policy.HopLimit < 1 || cfg.Policy.HopLimit > 7 {
		return fmt.Errorf("config hop_limit %d out of range 1..7", cfg.Policy.HopLimit)
	}
	if cfg.Meshview.URL != "" && !strings.HasPrefix(cfg.Meshview.URL, "http") {
		return fmt.Errorf("config meshview url must be http(s): %s", cfg.Meshview.URL)
	}
	if cfg.Admin.Retries < 0 {
		return fmt.Errorf("config admin retries must not be negative")
	}
	return nil
}

// SetupTimeout and friends convert the stored seconds to durations.
func (c SessionConfig) SetupTimeout() time.Duration {
	return time.Duration(c.SetupTimeoutSeconds) * time.Second
}

func (c SessionConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

func (c AdminConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nodepool.sqlite"
	}
	return filepath.Join(home, ".nodepool", "nodepool.sqlite")
}
