// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"fmt"
	"os"

	"github.com/imvault/imvault/internal/config"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and prepare the data directory",
		Long:  "Write a commented default config file, create the data directory and seed the preferences from the config.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInit(cmd)
		},
	}

	cmd.Flags().String("path", "", "config file to write (default ~/.config/imvault/imvault.yaml)")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

func (a *app) runInit(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")

	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil {
		if !force {
			_, _ = fmt.Fprintf(out, "Config already exists at %s (use --force to overwrite)\n", path)
			return a.prepareDataDir(cmd)
		}
		if err := os.Remove(path); err != nil {
			return vaulterr.Errorf(vaulterr.CodeCLISetupFailure, "removing %s: %w", path, err)
		}
	}

	if config.WriteDefault(path) == "" {
		return vaulterr.Errorf(vaulterr.CodeCLISetupFailure, "could not write config to %s", path)
	}
	_, _ = fmt.Fprintf(out, "Wrote config to %s\n", path)
	return a.prepareDataDir(cmd)
}

func (a *app) prepareDataDir(cmd *cobra.Command) error {
	st, _, err := openStore(cmd.Context(), a.cfg)
	if err != nil {
		return err
	}
	if err := st.Close(); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "closing store")
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Data directory ready at %s\n", a.cfg.DataDir)
	return err
}
