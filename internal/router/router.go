// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package router maps account lifecycle events to credential operations.
// Events may be published from any goroutine; every dispatch runs on the
// event loop.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/pipeline"
	"github.com/imvault/imvault/internal/prompt"
	"github.com/imvault/imvault/internal/secure"
)

// Operations is the part of the pipeline the router drives.
type Operations interface {
	Store(ctx context.Context, a account.Account)
	Load(ctx context.Context, a account.Account)
	Delete(ctx context.Context, a account.Account)
	StoreAll(ctx context.Context, accounts []account.Account) int
}

// Policy reports the auto-save preference.
type Policy interface {
	AutoSave(ctx context.Context) (bool, error)
}

// Source publishes account events.
type Source interface {
	Subscribe(fn func(account.Event)) (unsubscribe func())
	Find(id credential.Identity) (account.Account, bool)
}

// Router subscribes to account events and issues pipeline operations.
type Router struct {
	loop     *eventloop.Loop
	ops      Operations
	policy   Policy
	prompter prompt.Prompter

	// ctx is the session context handed to every operation.
	ctx         context.Context
	source      Source
	unsubscribe func()
	handled     func(account.Event)

	// held events wait for Resume.
	held   bool
	queued []account.Event
}

// Option configures a Router.
type Option func(*Router)

// WithHandled is called on the loop after each event was dispatched.
func WithHandled(fn func(account.Event)) Option {
	return func(r *Router) { r.handled = fn }
}

// New returns a router issuing operations through ops.
func New(ctx context.Context, loop *eventloop.Loop, ops Operations, policy Policy, prompter prompt.Prompter, opts ...Option) *Router {
	r := &Router{ctx: ctx, loop: loop, ops: ops, policy: policy, prompter: prompter}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes to src. Attaching twice replaces the first subscription.
func (r *Router) Attach(src Source) {
	r.Detach()
	r.source = src
	r.unsubscribe = src.Subscribe(r.Handle)
}

// Detach removes the subscription and drops held events. Safe to call when
// not attached.
func (r *Router) Detach() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	if len(r.queued) > 0 {
		slog.Warn("dropping held account events", "events", len(r.queued))
	}
	r.held = false
	r.queued = nil
}

// Hold queues events instead of dispatching them until Resume. Must be
// called on the loop.
func (r *Router) Hold() {
	r.held = true
}

// Resume dispatches the held events in arrival order and stops holding.
// Must be called on the loop.
func (r *Router) Resume() {
	queued := r.queued
	r.held = false
	r.queued = nil
	if len(queued) > 0 {
		slog.Debug("replaying held account events", "events", len(queued))
	}
	for _, ev := range queued {
		r.dispatch(ev)
	}
}

// Attached reports whether the router currently listens for events.
func (r *Router) Attached() bool {
	return r.unsubscribe != nil
}

// Handle posts ev onto the loop.
func (r *Router) Handle(ev account.Event) {
	if err := r.loop.Post(func() { r.dispatch(ev) }); err != nil {
		slog.Warn("dropping account event, event loop closed",
			"event", string(ev.Kind), "account", ev.Account.Identity().String())
	}
}

func (r *Router) dispatch(ev account.Event) {
	if r.held {
		r.queued = append(r.queued, ev)
		return
	}
	a := ev.Account
	id := a.Identity()
	slog.Debug("account event", "event", string(ev.Kind), "protocol", id.ProtocolID, "username", id.Username)

	switch ev.Kind {
	case account.EventAdded:
		if r.autoSave() {
			r.ops.Store(r.ctx, a)
		}
	case account.EventRemoved:
		if r.autoSave() {
			r.ops.Delete(r.ctx, a)
		}
	case account.EventEnabled:
		r.ops.Load(r.ctx, a)
	case account.EventDisabled:
		slog.Info("account disabled", "protocol", id.ProtocolID, "username", id.Username)
	case account.EventSignedOn:
		r.signedOn(a)
	case account.EventConnectionError:
		r.connectionError(ev)
	default:
		slog.Warn("unhandled account event", "event", string(ev.Kind))
	}

	if r.handled != nil {
		r.handled(ev)
	}
}

func (r *Router) autoSave() bool {
	on, err := r.policy.AutoSave(r.ctx)
	if err != nil {
		slog.Warn("reading auto-save preference", "error", err)
		return false
	}
	return on
}

// signedOn hands a remembered password to the vault and overwrites the
// plaintext copy held by the account.
func (r *Router) signedOn(a account.Account) {
	if !account.HasPassword(a) {
		return
	}
	if a.RememberPassword() {
		r.ops.Store(r.ctx, a)
	}
	a.SetPassword(account.Placeholder)
}

func (r *Router) connectionError(ev account.Event) {
	id := ev.Account.Identity()
	switch ev.Failure {
	case account.FailureNetwork:
		slog.Info("connection lost, reloading password",
			"protocol", id.ProtocolID, "username", id.Username, "description", ev.Description)
		r.ops.Load(r.ctx, ev.Account)
	case account.FailureBadCredentials:
		r.requestPassword(ev.Account)
	default:
		slog.Debug("ignoring connection error", "protocol", id.ProtocolID, "username", id.Username,
			"failure", ev.Failure.String())
	}
}

// requestPassword asks the user for a corrected password off the loop and
// stores it once the dialog is confirmed.
func (r *Router) requestPassword(a account.Account) {
	id := a.Identity()
	message := fmt.Sprintf("The server rejected the password for %s (%s). Enter the correct password:",
		id.Username, a.ProtocolName())

	eventloop.Request(r.loop, r.ctx, "prompt-password", func(ctx context.Context) (*secure.Secret, error) {
		return r.prompter.RequestPassword(ctx, pipeline.Title, message)
	}, func(secret *secure.Secret, err error) {
		if err != nil {
			if prompt.IsCancelled(err) {
				slog.Debug("password prompt cancelled", "protocol", id.ProtocolID, "username", id.Username)
				return
			}
			slog.Error("password prompt failed", "protocol", id.ProtocolID, "username", id.Username, "error", err)
			return
		}
		defer secret.Destroy()

		current, ok := r.current(a)
		if !ok {
			return
		}
		password, err := secret.Reveal()
		if err != nil {
			slog.Error("reading corrected password", "protocol", id.ProtocolID, "username", id.Username, "error", err)
			return
		}
		current.SetPassword(password)
		r.ops.Store(r.ctx, current)
	})
}

// current re-validates a after the prompt returned.
func (r *Router) current(a account.Account) (account.Account, bool) {
	if r.source == nil {
		return a, true
	}
	found, ok := r.source.Find(a.Identity())
	if !ok {
		slog.Debug("account removed while prompting", "account", a.Identity().String())
	}
	return found, ok
}

// Migrate stores every account's password in bulk. Must be called on the
// loop.
func (r *Router) Migrate(accounts []account.Account) int {
	issued := r.ops.StoreAll(r.ctx, accounts)
	slog.Info("migrating passwords into vault", "accounts", len(accounts), "issued", issued)
	return issued
}
