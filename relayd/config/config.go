package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	Version = "0.1.0"
	RevNum  = "dev"
)

const (
	DefaultPort            = 8990
	DefaultAllowedDomain   = "vendor.example"
	DefaultCanonicalOrigin = "https://verify.vendor.example"
	DefaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Config holds the relayd configuration stored in .relayd/config.json.
type Config struct {
	Version string `json:"version"`
	Port    int    `json:"port"`

	// Proxy identity and policy.
	AllowedDomain   string `json:"allowed_domain"`
	PublicBaseURL   string `json:"public_base_url"`
	CanonicalOrigin string `json:"canonical_origin"`
	UserAgent       string `json:"user_agent"`
	Origin          string `json:"origin,omitempty"`
	Referer         string `json:"referer,omitempty"`

	// Media replay upstream, host[:port]. Empty disables media replay.
	MediaHost string `json:"media_host,omitempty"`
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Version:         Version,
		Port:            DefaultPort,
		AllowedDomain:   DefaultAllowedDomain,
		CanonicalOrigin: DefaultCanonicalOrigin,
		UserAgent:       DefaultUserAgent,
	}
}

// DefaultPath returns the default config file location under the user's
// home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relayd/config.json"
	}
	return filepath.Join(home, ".relayd", "config.json")
}

// Load reads and parses config from the given path. If the file doesn't
// exist, returns os.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// LoadOrCreatePath loads the config at path, creating it with defaults
// when missing.
func LoadOrCreatePath(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = DefaultConfig()
	cfg.applyEnv()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path atomically.
func (c *Config) Save(path string) error {
	if c == nil {
		return errors.New("config is nil")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically by writing to temp file then renaming
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.AllowedDomain == "" {
		c.AllowedDomain = DefaultAllowedDomain
	}
	if c.CanonicalOrigin == "" {
		c.CanonicalOrigin = DefaultCanonicalOrigin
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// applyEnv overlays RELAY_* environment variables, reading a .env file
// from the working directory first when one exists. Environment wins
// over the config file.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("RELAY_ALLOWED_DOMAIN"); v != "" {
		c.AllowedDomain = v
	}
	if v := os.Getenv("RELAY_PUBLIC_BASE_URL"); v != "" {
		c.PublicBaseURL = v
	}
	if v := os.Getenv("RELAY_CANONICAL_ORIGIN"); v != "" {
		c.CanonicalOrigin = v
	}
	if v := os.Getenv("RELAY_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("RELAY_MEDIA_HOST"); v != "" {
		c.MediaHost = v
	}
}
