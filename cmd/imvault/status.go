// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/plugin"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show plugin status",
		Long:  "Ask the running daemon for its status, or report the persisted state when no daemon is running.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStatus(cmd)
		},
	}

	cmd.Flags().String("address", "", "daemon address to check (default server.listen)")

	return cmd
}

func (a *app) runStatus(cmd *cobra.Command) error {
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = a.cfg.Server.Listen
	}
	out := cmd.OutOrStdout()

	var st plugin.Status
	err := newDaemonClient(addr).getJSON("/api/v1/status", &st)
	switch {
	case err == nil:
		printStatus(out, "Daemon", addr, st)
		return nil
	case vaulterr.HasCode(err, vaulterr.CodeCLIDaemonNotRunning):
		_, _ = fmt.Fprintf(out, "Daemon at %s is not running (connection refused)\n", addr)
	default:
		_, _ = fmt.Fprintf(out, "Daemon at %s: %s\n", addr, err)
	}

	return a.printPersisted(cmd.Context(), out)
}

func printStatus(w io.Writer, name, addr string, st plugin.Status) {
	_, _ = fmt.Fprintf(w, "%-12s %s\n", name+":", addr)
	_, _ = fmt.Fprintf(w, "%-12s %s\n", "Phase:", st.Phase)
	_, _ = fmt.Fprintf(w, "%-12s %s", "Collection:", st.Vault.State)
	if st.Vault.Collection != "" {
		_, _ = fmt.Fprintf(w, " (%s)", st.Vault.Collection)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%-12s %d\n", "Pending:", st.Pending)
	_, _ = fmt.Fprintf(w, "%-12s %d\n", "Accounts:", st.Accounts)
}

// printPersisted reports what the last session left behind.
func (a *app) printPersisted(ctx context.Context, w io.Writer) error {
	st, p, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	phase := "never loaded"
	raw, ok, err := p.Phase(ctx)
	if err != nil {
		return err
	}
	if ok {
		ph, perr := plugin.ParsePhase(raw)
		if perr != nil {
			phase = fmt.Sprintf("unknown (%d)", raw)
		} else {
			phase = ph.String()
		}
	}
	clean, err := p.CleanUnload(ctx)
	if err != nil {
		return err
	}

	accounts := account.NewManager(st.Accounts())
	if err := accounts.LoadAll(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "%-12s %s\n", "Last phase:", phase)
	_, _ = fmt.Fprintf(w, "%-12s %t\n", "Clean exit:", clean)
	_, _ = fmt.Fprintf(w, "%-12s %d\n", "Accounts:", len(accounts.All()))
	return nil
}
