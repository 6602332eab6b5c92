package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config is the on-disk configuration surface.
type Config struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenCache   string `json:"token_cache"`
	// TemperatureScale selects display units, "C" or "F".
	TemperatureScale string `json:"temperature_scale"`
	// LocalTime renders datetimes in local time instead of UTC.
	LocalTime bool `json:"local_time"`
}

// DefaultPath is where the CLI looks for its config when -c is not given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "nestctl.json"
	}
	return filepath.Join(dir, "nestctl", "config.json")
}

// DefaultTokenCache is used when the config file names no token_cache.
func DefaultTokenCache() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "token.json"
	}
	return filepath.Join(dir, "nestctl", "token.json")
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TokenCache == "" {
		c.TokenCache = DefaultTokenCache()
	}
	if c.TemperatureScale == "" {
		c.TemperatureScale = "C"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidConfig)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%w: client_secret is required", ErrInvalidConfig)
	}
	if c.TemperatureScale != "C" && c.TemperatureScale != "F" {
		return fmt.Errorf("%w: temperature_scale must be C or F", ErrInvalidConfig)
	}
	return nil
}
