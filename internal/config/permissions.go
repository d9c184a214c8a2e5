// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// readableByOthers covers the group and other read bits.
const readableByOthers fs.FileMode = 0o044

// InsecurePermissions reports whether path is readable by group or other
// users. A missing file is not insecure.
func InsecurePermissions(path string) (bool, fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, 0, err
	}
	mode := info.Mode()
	return mode.Perm()&readableByOthers != 0, mode, nil
}

// WarnInsecurePermissions logs a warning when the config file is group- or
// world-readable. It never fails startup.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}

	insecure, mode, err := InsecurePermissions(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return
	}
	if insecure {
		slog.Warn("config file has insecure permissions, other users may read it",
			"path", path,
			"mode", mode,
			"recommended", "0600",
		)
	}
}
