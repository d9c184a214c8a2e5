// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/imvault/imvault/internal/config"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

// NewRootCmd creates the root imvault command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "imvault",
		Short:         "Imvault keeps instant-messaging passwords in the secret service",
		Long:          "Imvault stores, loads and deletes account passwords in the desktop secret service in step with the account lifecycle.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initViper(cmd)
		},
	}

	// Global flags map to viper keys in initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	root.PersistentFlags().String("backend", "", "secret service backend (dbus, keyring, memory)")
	root.PersistentFlags().String("prompt", "", "how questions are answered (interactive, yes, no)")

	root.AddCommand(
		newInitCmd(a),
		newVersionCmd(),
		newDoctorCmd(a),
		newStatusCmd(a),
		newDaemonCmd(a),
		newPrefsCmd(a),
		newAccountCmd(a),
		newSaveAllCmd(a),
		newDeleteAllCmd(a),
	)

	return root
}

var flagKeys = map[string]string{
	"data-dir": "data_dir",
	"verbose":  "verbose",
	"backend":  "vault.backend",
	"prompt":   "prompt.mode",
}

// initViper sets up Viper with defaults, env bindings, flag bindings, and an
// optional config file so the standard precedence (flag > env > file >
// defaults) is handled uniformly.
func (a *app) initViper(cmd *cobra.Command) error {
	v := a.v

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return vaulterr.Errorf(vaulterr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted so Viper never picks up the bare
		// ./imvault binary as a config file.
		v.SetConfigName("imvault")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/imvault")
		v.AddConfigPath("/etc/imvault")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return vaulterr.Errorf(vaulterr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			// init writes the config itself.
			if path := bootstrap(cmd); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return vaulterr.Errorf(vaulterr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return vaulterr.Errorf(vaulterr.CodeCLISetupFailure, "binding %s flag: %w", flag, err)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Verbose, slog.LevelWarn))
	if used := v.ConfigFileUsed(); used != "" {
		config.WarnInsecurePermissions(used)
	}
	return nil
}

func bootstrap(cmd *cobra.Command) string {
	if cmd.Name() == "init" {
		return ""
	}
	return config.BootstrapConfig()
}

// newLogger builds the process logger. Verbose enables debug records.
func newLogger(w io.Writer, format string, verbose bool, level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
