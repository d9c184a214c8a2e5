// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	vaulterr "github.com/imvault/imvault/pkg/errors"
)

//go:embed imvault.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/imvault/imvault.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", vaulterr.Errorf(vaulterr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "imvault", "imvault.yaml"), nil
}

// BootstrapConfig writes the default commented config to the default path
// if it does not exist yet. It returns the path written, or an empty string
// when nothing was written. Failures are logged and skipped.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}
	return WriteDefault(cfgPath)
}

// WriteDefault writes the default config to path unless a file is already
// there.
func WriteDefault(cfgPath string) string {
	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
