// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/imvault/imvault/internal/server"
	"github.com/spf13/cobra"
)

func newDaemonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the plugin and serve the account API",
		Long:  "Load the plugin, keep it enabled and serve account events, bulk actions, status and metrics over HTTP until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDaemon(cmd)
		},
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func (a *app) runDaemon(cmd *cobra.Command) (err error) {
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		a.cfg.Server.Listen = listen
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), a.cfg.Log.Format, a.cfg.Verbose, slog.LevelInfo))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := WireSession(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		// The signal context is done by now; unloading needs its own.
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Vault.Timeout)
		defer cancel()
		if cerr := s.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := s.Plugin.Load(ctx); err != nil {
		return err
	}
	if err := s.Plugin.Enable(ctx); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		ListenAddr:  a.cfg.Server.Listen,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Metrics:     s.Metrics.Handler(),
	})
	if err != nil {
		return err
	}
	services, err := s.Services()
	if err != nil {
		return err
	}
	srv.RegisterServices(services)
	srv.RegisterFeed(s.Feed)

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "imvault daemon listening on %s\n", a.cfg.Server.Listen); err != nil {
		return err
	}
	slog.Info("daemon started", "listen", a.cfg.Server.Listen, "backend", a.cfg.Vault.Backend)
	return srv.Start(ctx)
}
