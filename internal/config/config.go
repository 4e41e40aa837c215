// Package config loads tempmail settings from a YAML file, TEMPMAIL_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TEMPMAIL"

// RetryConfig controls transient-failure retries.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// KeyringConfig controls the OS keyring used for the API key.
type KeyringConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	DataPath         string        `mapstructure:"data_path" yaml:"data_path"`
	Listen           string        `mapstructure:"listen" yaml:"listen"`
	ControlToken     string        `mapstructure:"control_token" yaml:"control_token"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Retry            RetryConfig   `mapstructure:"retry" yaml:"retry"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat        string        `mapstructure:"log_format" yaml:"log_format"`
	Verbose          bool          `mapstructure:"verbose" yaml:"verbose"`
	APIKey           string        `mapstructure:"api_key" yaml:"api_key"`
	Keyring          KeyringConfig `mapstructure:"keyring" yaml:"keyring"`
	RememberPassword bool          `mapstructure:"remember_password" yaml:"remember_password"`
	ProvidersFile    string        `mapstructure:"providers_file" yaml:"providers_file"`
}

// DefaultDir returns ~/.config/tempmail.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tempmail")
}

// DefaultConfigPath returns the default location of config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	dir := DefaultDir()
	v.SetDefault("data_path", filepath.Join(dir, "tempmail.db"))
	v.SetDefault("listen", "127.0.0.1:8087")
	v.SetDefault("control_token", "")
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("verbose", false)
	v.SetDefault("api_key", "")
	v.SetDefault("keyring.enabled", false)
	v.SetDefault("keyring.file_dir", filepath.Join(dir, "credentials"))
	v.SetDefault("remember_password", true)
	v.SetDefault("providers_file", "")
}

// Load reads path (a missing file is fine) into v and decodes the result.
// Flags bound to v before the call take precedence.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(ExpandHome(path))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.DataPath = ExpandHome(cfg.DataPath)
	cfg.Keyring.FileDir = ExpandHome(cfg.Keyring.FileDir)
	cfg.ProvidersFile = ExpandHome(cfg.ProvidersFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive, got %s", c.Retry.BaseDelay)
	}
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
