// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"context"
	"fmt"

	"github.com/imvault/imvault/internal/prefs"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/cobra"
)

func newPrefsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and change persisted preferences",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every preference",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withPrefs(cmd.Context(), func(ctx context.Context, p *prefs.Prefs) error {
					persisted, err := p.List(ctx)
					if err != nil {
						return err
					}
					values := make(map[string]string, len(persisted))
					for _, pref := range persisted {
						values[pref.Key] = pref.Value
					}
					for _, key := range prefs.Keys() {
						value, ok := values[key]
						if !ok {
							value = "(unset)"
						}
						if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-28s %s\n", key, value); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one preference",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withPrefs(cmd.Context(), func(ctx context.Context, p *prefs.Prefs) error {
					value, err := p.Get(ctx, args[0])
					if vaulterr.IsNotFound(err) {
						_, err = fmt.Fprintln(cmd.OutOrStdout(), "(unset)")
						return err
					}
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one preference",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withPrefs(cmd.Context(), func(ctx context.Context, p *prefs.Prefs) error {
					if err := p.Set(ctx, args[0], args[1]); err != nil {
						return err
					}
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
					return err
				})
			},
		},
	)

	return cmd
}

func (a *app) withPrefs(ctx context.Context, fn func(context.Context, *prefs.Prefs) error) error {
	st, p, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(ctx, p)
}
