// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/imvault/imvault/internal/config"
	"github.com/imvault/imvault/internal/plugin"
	"github.com/imvault/imvault/internal/secretservice"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// doctorTimeout bounds the secret service probe.
const doctorTimeout = 5 * time.Second

func newDoctorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, configuration, secret service backend, data directory, disk space and the daemon.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDoctor(cmd)
		},
	}

	cmd.Flags().String("address", "", "daemon address to check (default server.listen)")

	return cmd
}

func (a *app) runDoctor(cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = a.cfg.Server.Listen
	}
	dataDir := a.cfg.DataDir

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(a.v.ConfigFileUsed()) }},
		{"Backend", func() string { return checkBackend(a.cfg) }},
		{"Data Dir", func() string { return checkDataDir(dataDir) }},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
		{"Daemon", func() string { return checkDaemon(addr) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("imvault %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cfgFile string) string {
	if cfgFile == "" {
		return "using defaults (no config file found)"
	}
	insecure, mode, err := config.InsecurePermissions(cfgFile)
	if err != nil {
		return fmt.Sprintf("loaded from %s (cannot stat: %s)", cfgFile, err)
	}
	if insecure {
		return fmt.Sprintf("loaded from %s (WARNING: mode %04o is readable by other users)", cfgFile, mode.Perm())
	}
	return fmt.Sprintf("loaded from %s", cfgFile)
}

// checkBackend connects to the configured secret service and lists its
// collections without unlocking anything.
func checkBackend(cfg *config.Config) string {
	connect, err := secretservice.Open(cfg.Vault.Backend, secretservice.Options{
		KeyringService: cfg.Keyring.Service,
		SessionBus:     cfg.Vault.SessionBus,
	})
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	svc, err := connect(ctx)
	if err != nil {
		return fmt.Sprintf("%s unavailable: %s", cfg.Vault.Backend, err)
	}
	defer func() { _ = svc.Close() }()

	cols, err := svc.Collections(ctx)
	if err != nil {
		return fmt.Sprintf("%s connected, listing collections failed: %s", cfg.Vault.Backend, vaulterr.CodeOf(err))
	}
	return fmt.Sprintf("%s reachable, %d collection(s)", cfg.Vault.Backend, len(cols))
}

func checkDataDir(dataDir string) string {
	info, err := os.Stat(dataDir)
	if os.IsNotExist(err) {
		return fmt.Sprintf("%s does not exist yet (run 'imvault init')", dataDir)
	}
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if !info.IsDir() {
		return fmt.Sprintf("%s is not a directory", dataDir)
	}
	if err := unix.Access(dataDir, unix.W_OK); err != nil {
		return fmt.Sprintf("%s is not writable: %s", dataDir, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Sprintf("%s (WARNING: mode %04o is accessible by other users)", dataDir, info.Mode().Perm())
	}
	return dataDir
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

func checkDaemon(addr string) string {
	var st plugin.Status
	if err := newDaemonClient(addr).getJSON("/api/v1/status", &st); err != nil {
		if vaulterr.HasCode(err, vaulterr.CodeCLIDaemonNotRunning) {
			return fmt.Sprintf("not running at %s (run 'imvault daemon')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s, %d pending", st.Phase, addr, st.Pending)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
