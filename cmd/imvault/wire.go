// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/config"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/metrics"
	"github.com/imvault/imvault/internal/notify"
	"github.com/imvault/imvault/internal/pipeline"
	"github.com/imvault/imvault/internal/plugin"
	"github.com/imvault/imvault/internal/prefs"
	"github.com/imvault/imvault/internal/prompt"
	"github.com/imvault/imvault/internal/router"
	"github.com/imvault/imvault/internal/secretservice"
	_ "github.com/imvault/imvault/internal/secretservice/dbussecret" // register dbus backend
	_ "github.com/imvault/imvault/internal/secretservice/memservice" // register memory backend
	_ "github.com/imvault/imvault/internal/secretservice/oskeyring"  // register keyring backend
	"github.com/imvault/imvault/internal/server"
	"github.com/imvault/imvault/internal/store"
	_ "github.com/imvault/imvault/internal/store/sqlite" // register sqlite backend
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Session holds one wired plugin session and manages its lifecycle.
type Session struct {
	Config   *config.Config
	Store    store.Store
	Prefs    *prefs.Prefs
	Loop     *eventloop.Loop
	Accounts *account.Manager
	Vault    *vault.Manager
	Pipeline *pipeline.Pipeline
	Router   *router.Router
	Plugin   *plugin.Plugin
	Metrics  *metrics.Metrics
	Feed     *server.Feed

	cancel context.CancelFunc
	done   chan struct{}
}

// openStore opens the store of the configured data directory and seeds the
// preference defaults from cfg.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *prefs.Prefs, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, vaulterr.Errorf(vaulterr.CodeCLISetupFailure, "creating data directory: %w", err)
	}
	st, err := store.Open(&store.StorageConfig{Backend: cfg.Storage.Backend}, cfg.DataDir)
	if err != nil {
		return nil, nil, vaulterr.Wrapf(err, vaulterr.CodeCLISetupFailure, "opening store in %s", cfg.DataDir)
	}
	p := prefs.New(st.Prefs())
	if err := p.Seed(ctx, cfg.Defaults()); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, p, nil
}

// WireSession creates all subsystems and wires them together. The event loop
// runs until Close.
func WireSession(ctx context.Context, cfg *config.Config) (*Session, error) {
	st, p, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	accounts := account.NewManager(st.Accounts())
	if err := accounts.LoadAll(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	connect, err := secretservice.Open(cfg.Vault.Backend, secretservice.Options{
		KeyringService: cfg.Keyring.Service,
		SessionBus:     cfg.Vault.SessionBus,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	prompter, err := prompt.ForMode(cfg.Prompt.Mode)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var (
		m        = metrics.New()
		feed     = server.NewFeed()
		notifier = notify.LogNotifier{}
		loop     = eventloop.New()
	)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(loopCtx)
	}()

	v := vault.NewManager(loop, connect, vault.WithTimeout(cfg.Vault.Timeout), vault.WithMetrics(m))
	pipe := pipeline.New(loop, v, accounts, notifier,
		pipeline.WithMetrics(m),
		pipeline.WithObserver(feed.Observe),
	)
	r := router.New(loopCtx, loop, pipe, p, prompter)

	s := &Session{
		Config:   cfg,
		Store:    st,
		Prefs:    p,
		Loop:     loop,
		Accounts: accounts,
		Vault:    v,
		Pipeline: pipe,
		Router:   r,
		Metrics:  m,
		Feed:     feed,
		cancel:   cancel,
		done:     done,
	}
	s.Plugin = plugin.New(plugin.Deps{
		Loop:     loop,
		Prefs:    p,
		Accounts: accounts,
		Vault:    v,
		Pipeline: pipe,
		Router:   r,
		Prompter: prompter,
		Notifier: notifier,
	})

	slog.Debug("session wired",
		"backend", cfg.Vault.Backend,
		"data_dir", cfg.DataDir,
		"accounts", len(accounts.All()),
	)
	return s, nil
}

// Services returns the daemon API services of this session.
func (s *Session) Services() (*server.Services, error) {
	return server.NewSession(s.Loop, s.Accounts, s.Plugin).Services()
}

// Close unloads the plugin if it is still loaded, stops the loop and closes
// the store.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.Plugin.Phase().Active() {
		if err := s.Plugin.Unload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.Feed.Close()
	s.Loop.Close()
	s.cancel()
	<-s.done
	if err := s.Store.Close(); err != nil {
		errs = append(errs, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "closing store"))
	}
	return vaulterr.Join(errs...)
}

// withSession runs fn inside one plugin session: wire, load, fn, wait for
// every operation fn started, unload.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := WireSession(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := s.Plugin.Load(ctx); err != nil {
		return err
	}
	if err := fn(ctx, s); err != nil {
		return err
	}
	return s.Loop.Wait(ctx)
}
