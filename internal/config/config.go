// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/imvault/imvault/internal/prefs"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Imvault configuration.
type Config struct {
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	Verbose bool          `mapstructure:"verbose" yaml:"verbose"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Vault   VaultConfig   `mapstructure:"vault" yaml:"vault"`
	Keyring KeyringConfig `mapstructure:"keyring" yaml:"keyring"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Prompt  PromptConfig  `mapstructure:"prompt" yaml:"prompt"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// LogConfig selects the log output format.
type LogConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
}

// VaultConfig selects the secret-service backend and the collection.
type VaultConfig struct {
	Backend    string           `mapstructure:"backend" yaml:"backend"`
	Collection CollectionConfig `mapstructure:"collection" yaml:"collection"`
	AutoSave   bool             `mapstructure:"auto_save" yaml:"auto_save"`
	AutoLock   bool             `mapstructure:"auto_lock" yaml:"auto_lock"`
	Timeout    time.Duration    `mapstructure:"timeout" yaml:"timeout"`
	// SessionBus overrides the D-Bus session bus address.
	SessionBus string `mapstructure:"session_bus" yaml:"session_bus,omitempty"`
}

// CollectionConfig names the collection passwords are kept in.
type CollectionConfig struct {
	UseCustom bool   `mapstructure:"use_custom" yaml:"use_custom"`
	Name      string `mapstructure:"name" yaml:"name"`
}

// KeyringConfig configures the OS keyring backend.
type KeyringConfig struct {
	Service string `mapstructure:"service" yaml:"service"`
}

// ServerConfig controls the daemon API listener.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen" yaml:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// PromptConfig selects how questions are answered.
type PromptConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// Defaults returns the preference defaults seeded from this config.
func (c *Config) Defaults() prefs.Defaults {
	return prefs.Defaults{
		UseCustom:      c.Vault.Collection.UseCustom,
		CollectionName: c.Vault.Collection.Name,
		AutoSave:       c.Vault.AutoSave,
		AutoLock:       c.Vault.AutoLock,
	}
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, vaulterr.Errorf(vaulterr.CodeConfigParseInvalidFormat, "encoding config: %w", err)
	}
	return out, nil
}

// DefaultDataDir returns ~/.local/share/imvault.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "imvault")
	}
	return filepath.Join(home, ".local", "share", "imvault")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("verbose", false)
	v.SetDefault("log.format", "text")
	v.SetDefault("vault.backend", "dbus")
	v.SetDefault("vault.collection.use_custom", false)
	v.SetDefault("vault.collection.name", prefs.DefaultCollectionName)
	v.SetDefault("vault.auto_save", true)
	v.SetDefault("vault.auto_lock", false)
	v.SetDefault("vault.timeout", 2*time.Minute)
	v.SetDefault("keyring.service", "imvault")
	v.SetDefault("server.listen", "127.0.0.1:18790")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("prompt.mode", "interactive")
	v.SetDefault("storage.backend", "sqlite")
}

// SetupEnv binds IMVAULT_* environment variables, e.g. IMVAULT_VAULT_BACKEND
// for vault.backend.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("IMVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix IMVAULT_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, vaulterr.Errorf(vaulterr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, vaulterr.Errorf(vaulterr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateVault()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validatePrompt()...)
	errs = append(errs, c.validateStorage()...)

	if c.DataDir == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue, "config: data_dir must not be empty"))
	}

	return errs
}

func (c *Config) validateLog() []error {
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return []error{vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: log.format must be one of [text, json], got %q", c.Log.Format)}
	}
	return nil
}

func (c *Config) validateVault() []error {
	var errs []error

	validBackends := map[string]bool{"dbus": true, "keyring": true, "memory": true}
	if !validBackends[c.Vault.Backend] {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: vault.backend must be one of [dbus, keyring, memory], got %q",
			c.Vault.Backend,
		))
	}

	if c.Vault.Collection.UseCustom && strings.TrimSpace(c.Vault.Collection.Name) == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: vault.collection.name must not be empty when use_custom is set"))
	}

	if c.Vault.Timeout <= 0 {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: vault.timeout must be greater than 0, got %s", c.Vault.Timeout))
	}

	if c.Vault.Backend == "keyring" && c.Keyring.Service == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: keyring.service must not be empty for the keyring backend"))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	for i, origin := range c.Server.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
				"config: server.cors_origins[%d] must be an http(s) origin, got %q", i, origin))
		}
	}

	return errs
}

func (c *Config) validatePrompt() []error {
	validModes := map[string]bool{"interactive": true, "yes": true, "no": true}
	if !validModes[c.Prompt.Mode] {
		return []error{vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: prompt.mode must be one of [interactive, yes, no], got %q", c.Prompt.Mode)}
	}
	return nil
}

func (c *Config) validateStorage() []error {
	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		return []error{vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite], got %q",
			c.Storage.Backend,
		)}
	}
	return nil
}
