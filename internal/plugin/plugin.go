// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package plugin drives the plugin lifecycle: it persists the phase across
// restarts, wires the event router, resolves the collection on load and
// releases it on unload.
package plugin

import (
	"context"
	"log/slog"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/notify"
	"github.com/imvault/imvault/internal/pipeline"
	"github.com/imvault/imvault/internal/prefs"
	"github.com/imvault/imvault/internal/prompt"
	"github.com/imvault/imvault/internal/router"
	"github.com/imvault/imvault/internal/secretservice"
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// MigrationQuestion is asked once after a first or unclean start.
const MigrationQuestion = "Store the passwords of all configured accounts in the vault now?"

// Deps are the collaborators of a Plugin.
type Deps struct {
	Loop     *eventloop.Loop
	Prefs    *prefs.Prefs
	Accounts *account.Manager
	Vault    *vault.Manager
	Pipeline *pipeline.Pipeline
	Router   *router.Router
	Prompter prompt.Prompter
	Notifier notify.Notifier
}

// Plugin is one plugin session.
type Plugin struct {
	deps    Deps
	machine machine
}

// New returns an unloaded plugin.
func New(d Deps) *Plugin {
	return &Plugin{deps: d}
}

// Phase returns the in-memory phase.
func (p *Plugin) Phase() Phase {
	return p.machine.get()
}

// Status describes the running session.
type Status struct {
	Phase    string       `json:"phase"`
	Vault    vault.Status `json:"vault"`
	Pending  int          `json:"pending"`
	Accounts int          `json:"accounts"`
}

// Status reports the phase, the collection and pending work.
func (p *Plugin) Status(ctx context.Context) (Status, error) {
	vs, err := p.deps.Vault.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Phase:    p.Phase().String(),
		Vault:    vs,
		Pending:  p.deps.Loop.Pending(),
		Accounts: len(p.deps.Accounts.All()),
	}, nil
}

// enter moves to next and persists it. The clean flag is cleared for every
// phase except Unloaded.
func (p *Plugin) enter(ctx context.Context, next Phase) (Phase, error) {
	prev, err := p.machine.transition(next)
	if err != nil {
		return prev, err
	}
	if err := p.deps.Prefs.SetPhase(ctx, int(next)); err != nil {
		return prev, err
	}
	if err := p.deps.Prefs.SetCleanUnload(ctx, next == PhaseUnloaded); err != nil {
		return prev, err
	}
	slog.Debug("plugin phase", "from", prev.String(), "to", next.String())
	return prev, nil
}

// needsMigration reports whether the previous session was the first one,
// ended without a clean unload or could not make its migration offer.
func (p *Plugin) needsMigration(ctx context.Context) (bool, error) {
	pending, err := p.deps.Prefs.MigrationPending(ctx)
	if err != nil {
		return false, err
	}
	if pending {
		slog.Info("migration offer pending from previous session")
		return true, nil
	}
	raw, ok, err := p.deps.Prefs.Phase(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Info("first start, no persisted phase")
		return true, nil
	}
	prev, err := ParsePhase(raw)
	if err != nil {
		slog.Warn("treating unknown persisted phase as unclean restart", "phase", raw)
		return true, nil
	}
	clean, err := p.deps.Prefs.CleanUnload(ctx)
	if err != nil {
		return false, err
	}
	if prev != PhaseUnloaded || !clean {
		slog.Info("previous session did not unload cleanly", "phase", prev.String(), "clean", clean)
		return true, nil
	}
	return false, nil
}

// Load starts a session. Collection failures are reported and leave the
// plugin loaded; only persistence and lifecycle errors are returned. Must
// not be called on the loop.
func (p *Plugin) Load(ctx context.Context) error {
	migrate, err := p.needsMigration(ctx)
	if err != nil {
		return err
	}
	if _, err := p.enter(ctx, PhaseInitializing); err != nil {
		return err
	}

	// Events published before the collection is resolved and the passwords
	// are loaded wait in the router until the plugin is Loaded.
	if err := p.deps.Loop.Do(ctx, func() {
		p.deps.Router.Attach(p.deps.Accounts)
		p.deps.Router.Hold()
	}); err != nil {
		return p.abort(ctx, err)
	}

	resolved := p.resolve(ctx)
	if migrate {
		settled := resolved && p.offerMigration(ctx)
		if err := p.deps.Prefs.SetMigrationPending(ctx, !settled); err != nil {
			return p.abort(ctx, err)
		}
		if !settled {
			slog.Info("password migration postponed to next load")
		}
	}

	if _, err := p.enter(ctx, PhaseLoading); err != nil {
		return p.abort(ctx, err)
	}
	if resolved {
		p.loadAll(ctx)
	}
	if _, err := p.enter(ctx, PhaseLoaded); err != nil {
		return p.abort(ctx, err)
	}
	if err := p.deps.Loop.Do(ctx, p.deps.Router.Resume); err != nil {
		return p.abort(ctx, err)
	}
	slog.Info("plugin loaded", "accounts", len(p.deps.Accounts.All()))
	return nil
}

// abort detaches the router after a failed load and returns err.
func (p *Plugin) abort(ctx context.Context, err error) error {
	_ = p.deps.Loop.Do(ctx, p.deps.Router.Detach)
	if _, terr := p.machine.transition(PhaseUnloaded); terr != nil {
		slog.Warn("resetting phase after failed load", "error", terr)
	}
	return err
}

func (p *Plugin) resolve(ctx context.Context) bool {
	useCustom, err := p.deps.Prefs.UseCustomCollection(ctx)
	if err != nil {
		slog.Warn("reading collection preference", "error", err)
	}
	name, err := p.deps.Prefs.CollectionName(ctx)
	if err != nil {
		slog.Warn("reading collection name", "error", err)
	}
	sel := vault.SelectorFor(useCustom, name)

	handle, err := eventloop.Await(ctx, p.deps.Loop, func(done func(secretservice.Collection, error)) {
		p.deps.Vault.Resolve(ctx, sel, done)
	})
	if err != nil {
		slog.Error("resolving collection", "selector", sel.String(), "code", vaulterr.CodeOf(err), "error", err)
		p.deps.Notifier.Error(pipeline.Title, "Could not open the password collection", err.Error())
		return false
	}
	slog.Info("collection resolved", "selector", sel.String(), "collection", handle.Label)
	return true
}

// offerMigration asks once whether to store every password, and on
// acceptance unlocks the collection and stores them in bulk. It reports
// false when the offer has to be repeated: the question could not be shown
// or the accepted migration could not reach the collection.
func (p *Plugin) offerMigration(ctx context.Context) bool {
	ok, err := p.deps.Prompter.Confirm(ctx, pipeline.Title, MigrationQuestion)
	if err != nil {
		if prompt.IsCancelled(err) {
			return true
		}
		slog.Warn("migration prompt failed", "error", err)
		return false
	}
	if !ok {
		slog.Info("password migration declined")
		return true
	}

	issued, err := eventloop.Await(ctx, p.deps.Loop, func(done func(int, error)) {
		p.deps.Vault.EnsureUnlocked(ctx, vault.PurposeInitializing, func(u vault.Unlocked, err error) {
			if err != nil {
				done(0, err)
				return
			}
			n := 0
			if u.Purpose == vault.PurposeInitializing {
				n = p.deps.Router.Migrate(p.accounts())
			}
			done(n, nil)
		})
	})
	if err != nil {
		slog.Error("password migration failed", "code", vaulterr.CodeOf(err), "error", err)
		p.deps.Notifier.Error(pipeline.Title, "Could not migrate passwords", err.Error())
		return false
	}
	if err := p.deps.Loop.Wait(ctx); err != nil {
		slog.Warn("waiting for migration", "issued", issued, "error", err)
	}
	return true
}

// loadAll fetches the password of every account synchronously so the host
// never asks for a password the vault holds.
func (p *Plugin) loadAll(ctx context.Context) {
	var ids []credential.Identity
	for _, r := range p.deps.Accounts.All() {
		if !r.RememberPassword() {
			ids = append(ids, r.Identity())
		}
	}
	for _, id := range ids {
		if err := p.deps.Pipeline.LoadSync(ctx, id); err != nil && !vaulterr.IsNotFound(err) {
			slog.Warn("startup password load failed", "account", id.String(), "error", err)
		}
	}
}

func (p *Plugin) accounts() []account.Account {
	records := p.deps.Accounts.All()
	out := make([]account.Account, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	return out
}

// Enable marks the session as serving requests.
func (p *Plugin) Enable(ctx context.Context) error {
	_, err := p.enter(ctx, PhaseEnabled)
	return err
}

// SaveAll stores every account's password and waits for the operations.
func (p *Plugin) SaveAll(ctx context.Context) (int, error) {
	prev, err := p.enter(ctx, PhaseStoring)
	if err != nil {
		return 0, err
	}
	var issued int
	err = p.deps.Loop.Do(ctx, func() {
		issued = p.deps.Pipeline.StoreAll(ctx, p.accounts())
	})
	if err == nil {
		err = p.deps.Loop.Wait(ctx)
	}
	if _, perr := p.enter(ctx, prev); perr != nil && err == nil {
		err = perr
	}
	return issued, err
}

// DeleteAll deletes every account's stored password and waits for the
// operations.
func (p *Plugin) DeleteAll(ctx context.Context) error {
	prev, err := p.enter(ctx, PhaseDeleting)
	if err != nil {
		return err
	}
	err = p.deps.Loop.Do(ctx, func() {
		p.deps.Pipeline.DeleteAll(ctx, p.accounts())
	})
	if err == nil {
		err = p.deps.Loop.Wait(ctx)
	}
	if _, perr := p.enter(ctx, prev); perr != nil && err == nil {
		err = perr
	}
	return err
}

// Unload ends the session: optionally locks the collection, releases the
// handle, unsubscribes from account events and persists a clean unload.
func (p *Plugin) Unload(ctx context.Context) error {
	if !p.Phase().Active() {
		return vaulterr.Errorf(vaulterr.CodePluginNotLoaded, "plugin is %s", p.Phase())
	}
	if err := p.deps.Loop.Wait(ctx); err != nil {
		slog.Warn("unloading with operations still pending", "pending", p.deps.Loop.Pending(), "error", err)
	}

	autoLock, err := p.deps.Prefs.AutoLock(ctx)
	if err != nil {
		slog.Warn("reading auto-lock preference", "error", err)
	}
	if autoLock {
		_, err := eventloop.Await(ctx, p.deps.Loop, func(done func(struct{}, error)) {
			p.deps.Vault.Lock(ctx, func(err error) { done(struct{}{}, err) })
		})
		if err != nil && !vaulterr.HasCode(err, vaulterr.CodeCollectionUnresolved) {
			slog.Warn("locking collection on unload", "error", err)
		}
	}

	if err := p.deps.Loop.Do(ctx, func() {
		p.deps.Vault.Release()
		p.deps.Router.Detach()
	}); err != nil {
		return err
	}
	if err := p.deps.Loop.Wait(ctx); err != nil {
		slog.Warn("waiting for session close", "error", err)
	}

	if _, err := p.enter(ctx, PhaseUnloaded); err != nil {
		return err
	}
	slog.Info("plugin unloaded")
	return nil
}
