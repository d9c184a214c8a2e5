// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/cobra"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts and raise their lifecycle events",
		Long:  "Each subcommand except list runs one plugin session, so the resulting password operations finish before it returns.",
	}

	cmd.AddCommand(
		newAccountListCmd(a),
		newAccountAddCmd(a),
		a.accountEventCmd("remove", "Remove an account", func(ctx context.Context, m *account.Manager, id credential.Identity) error {
			return m.Remove(ctx, id)
		}),
		a.accountEventCmd("enable", "Enable an account", func(ctx context.Context, m *account.Manager, id credential.Identity) error {
			return m.Enable(ctx, id)
		}),
		a.accountEventCmd("disable", "Disable an account", func(ctx context.Context, m *account.Manager, id credential.Identity) error {
			return m.Disable(ctx, id)
		}),
		a.accountEventCmd("signon", "Report that an account signed on", func(ctx context.Context, m *account.Manager, id credential.Identity) error {
			return m.SignOn(ctx, id)
		}),
		newAccountFailCmd(a),
	)

	return cmd
}

func newAccountListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, _, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			m := account.NewManager(st.Accounts())
			if err := m.LoadAll(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			records := m.All()
			if len(records) == 0 {
				_, err := fmt.Fprintln(out, "No accounts configured")
				return err
			}
			for _, r := range records {
				snap := r.Snapshot()
				if _, err := fmt.Fprintf(out, "%-16s %-32s enabled=%-5t remember=%-5t password=%t\n",
					snap.ProtocolID, snap.Username, snap.Enabled, snap.RememberPassword, snap.HasPassword); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newAccountAddCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <protocol> <username>",
		Short: "Add an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := accountSpec(cmd, args)
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
				r, err := s.Accounts.Add(ctx, spec)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", r.Identity())
				return err
			})
		},
	}

	cmd.Flags().String("protocol-name", "", "display name of the protocol")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().Bool("password-stdin", false, "read the password from the first line of stdin")
	cmd.Flags().Bool("remember", false, "the host keeps the password itself")
	cmd.Flags().Bool("enabled", true, "enable the account")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")

	return cmd
}

func accountSpec(cmd *cobra.Command, args []string) (account.Spec, error) {
	protocolName, _ := cmd.Flags().GetString("protocol-name")
	password, _ := cmd.Flags().GetString("password")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")
	remember, _ := cmd.Flags().GetBool("remember")
	enabled, _ := cmd.Flags().GetBool("enabled")

	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return account.Spec{}, vaulterr.Errorf(vaulterr.CodeCLIInputInvalid, "reading password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	return account.Spec{
		ProtocolID:       args[0],
		ProtocolName:     protocolName,
		Username:         args[1],
		Password:         password,
		RememberPassword: remember,
		Enabled:          enabled,
	}, nil
}

// accountEventCmd builds a subcommand that applies fn to one registered
// account inside a session.
func (a *app) accountEventCmd(use, short string, fn func(context.Context, *account.Manager, credential.Identity) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <protocol> <username>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := credential.New(args[0], args[1])
			return a.withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
				if err := fn(ctx, s.Accounts, id); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", use, id)
				return err
			})
		},
	}
}

func newAccountFailCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fail <protocol> <username>",
		Short: "Report a connection error for an account",
		Long:  "A network failure reloads the password from the vault; bad credentials ask for a new password and store it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kindName, _ := cmd.Flags().GetString("kind")
			description, _ := cmd.Flags().GetString("description")
			kind, err := account.ParseFailure(kindName)
			if err != nil {
				return vaulterr.Wrap(err, vaulterr.CodeCLIInputInvalid, "invalid --kind")
			}
			id := credential.New(args[0], args[1])
			return a.withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
				if err := s.Accounts.ConnectionError(ctx, id, kind, description); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", kind, id)
				return err
			})
		},
	}

	cmd.Flags().String("kind", "network", "failure kind (network, bad-credentials)")
	cmd.Flags().String("description", "", "failure description reported by the server")

	return cmd
}
