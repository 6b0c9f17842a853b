package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AppConfig is the top-level application configuration. Account settings
// are not kept here; they live in the encrypted settings store.
type AppConfig struct {
	// PollIntervalSec is how often (in seconds) droplets fetch updates.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// SettingsPath is the location of the encrypted account settings file.
	SettingsPath string `mapstructure:"settings_path" yaml:"settings_path"`

	// ArchivePath is the location of the local ripple archive database.
	ArchivePath string `mapstructure:"archive_path" yaml:"archive_path"`

	// RememberPassphrase stores the vault passphrase in the OS keyring so
	// the unlock prompt can be skipped on startup.
	RememberPassphrase bool `mapstructure:"remember_passphrase" yaml:"remember_passphrase"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/rainfeed/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "rainfeed", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	configDir := filepath.Dir(DefaultConfigPath())
	return &AppConfig{
		PollIntervalSec:    120,
		SettingsPath:       filepath.Join(configDir, "accounts.yaml"),
		ArchivePath:        filepath.Join(configDir, "archive.db"),
		RememberPassphrase: false,
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	defaults := defaultAppConfig()
	v.SetDefault("poll_interval_sec", defaults.PollIntervalSec)
	v.SetDefault("settings_path", defaults.SettingsPath)
	v.SetDefault("archive_path", defaults.ArchivePath)
	v.SetDefault("remember_passphrase", defaults.RememberPassphrase)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaults, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = defaults.PollIntervalSec
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("poll_interval_sec", cfg.PollIntervalSec)
	v.Set("settings_path", cfg.SettingsPath)
	v.Set("archive_path", cfg.ArchivePath)
	v.Set("remember_passphrase", cfg.RememberPassphrase)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
