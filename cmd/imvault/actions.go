// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"context"
	"fmt"

	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/cobra"
)

func newSaveAllCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save-all",
		Short: "Save all passwords to the vault",
		Long:  "Ask the running daemon to store every password, or run a local session when no daemon is running.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issued, err := a.saveAll(cmd)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Issued %d store operation(s)\n", issued)
			return err
		},
	}
	cmd.Flags().String("address", "", "daemon address (default server.listen)")
	return cmd
}

func (a *app) saveAll(cmd *cobra.Command) (int, error) {
	var resp struct {
		Issued int `json:"issued"`
	}
	err := newDaemonClient(a.daemonAddr(cmd)).postJSON("/api/v1/actions/save-all", nil, &resp)
	if !vaulterr.HasCode(err, vaulterr.CodeCLIDaemonNotRunning) {
		return resp.Issued, err
	}

	var issued int
	err = a.withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
		var serr error
		issued, serr = s.Plugin.SaveAll(ctx)
		return serr
	})
	return issued, err
}

func newDeleteAllCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete all passwords from the vault",
		Long:  "Ask the running daemon to delete every password, or run a local session when no daemon is running.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.deleteAll(cmd); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Deleted all passwords from the vault")
			return err
		},
	}
	cmd.Flags().String("address", "", "daemon address (default server.listen)")
	return cmd
}

func (a *app) deleteAll(cmd *cobra.Command) error {
	err := newDaemonClient(a.daemonAddr(cmd)).postJSON("/api/v1/actions/delete-all", nil, nil)
	if !vaulterr.HasCode(err, vaulterr.CodeCLIDaemonNotRunning) {
		return err
	}
	return a.withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
		return s.Plugin.DeleteAll(ctx)
	})
}

func (a *app) daemonAddr(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		return addr
	}
	return a.cfg.Server.Listen
}
