// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package pipeline

import (
	"context"
	"log/slog"

	"github.com/awnumar/memguard"
	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/secretservice"
	"github.com/imvault/imvault/internal/secure"
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

type lookupResult struct {
	secret  *secure.Secret
	matches int
}

// Load searches the collection for the account's record and sets the first
// match as the account's password. Accounts that remember their own
// password are skipped without contacting the service. Must be called on
// the loop.
func (p *Pipeline) Load(ctx context.Context, a account.Account) {
	id := a.Identity()
	if a.RememberPassword() {
		p.skip(OpLoad, id, "account remembers its password")
		return
	}
	protocolName := a.ProtocolName()

	svc, handle, ok := p.vault.Current()
	if !ok {
		p.metrics.Started()
		p.finish(Result{Op: OpLoad, Identity: id, Err: unresolved(OpLoad, id)}, protocolName)
		return
	}

	p.metrics.Started()
	var reqID string
	reqID = eventloop.Request(p.loop, ctx, "load", func(ctx context.Context) (lookupResult, error) {
		return search(ctx, svc, handle, id)
	}, func(res lookupResult, err error) {
		defer res.secret.Destroy()
		if err == nil {
			p.applyLoaded(id, res, reqID)
		}
		p.finish(Result{Op: OpLoad, Identity: id, RequestID: reqID, Matches: res.matches, Err: err}, protocolName)
	})
}

// applyLoaded hands a found password to the account, if it still exists.
// Zero matches leave the account untouched.
func (p *Pipeline) applyLoaded(id credential.Identity, res lookupResult, reqID string) {
	if res.matches == 0 {
		slog.Info("no stored password", "protocol", id.ProtocolID, "username", id.Username, "request_id", reqID)
		return
	}
	if res.matches > 1 {
		slog.Warn("multiple stored passwords, using the first",
			"protocol", id.ProtocolID, "username", id.Username, "matches", res.matches)
	}

	acct, ok := p.lookup(OpLoad, id)
	if !ok {
		return
	}
	password, err := res.secret.Reveal()
	if err != nil {
		slog.Error("revealing loaded password", "protocol", id.ProtocolID, "username", id.Username, "error", err)
		return
	}
	acct.SetPassword(password)
	slog.Info("password loaded", "protocol", id.ProtocolID, "username", id.Username, "request_id", reqID)
}

// search runs the search-and-unlock request and seals the first secret.
func search(ctx context.Context, svc secretservice.Service, handle secretservice.Collection, id credential.Identity) (lookupResult, error) {
	items, err := svc.SearchItems(ctx, handle, id.Attributes(), true)
	if err != nil {
		return lookupResult{}, vault.Classify(err, vaulterr.CodeItemSearchFailure, "searching items",
			vaulterr.FieldCollection(handle.Label))
	}
	defer func() {
		for i := range items {
			memguard.WipeBytes(items[i].Secret)
		}
	}()

	matched := 0
	var first *secretservice.Item
	for i := range items {
		if !id.Matches(items[i].Attributes) {
			continue
		}
		matched++
		if first == nil {
			first = &items[i]
		}
	}
	if first == nil {
		return lookupResult{}, nil
	}
	secret := make([]byte, len(first.Secret))
	copy(secret, first.Secret)
	return lookupResult{secret: secure.FromBytes(secret), matches: matched}, nil
}

// LoadSync is the blocking variant of Load used once at startup so the host
// never asks for a password before the vault answered. It runs the search
// on the caller's goroutine and must not be called on the loop.
func (p *Pipeline) LoadSync(ctx context.Context, id credential.Identity) error {
	var (
		acct         account.Account
		found        bool
		svc          secretservice.Service
		handle       secretservice.Collection
		ok           bool
		protocolName string
	)
	if err := p.loop.Do(ctx, func() {
		acct, found = p.accounts.Find(id)
		if found {
			protocolName = acct.ProtocolName()
		}
		svc, handle, ok = p.vault.Current()
	}); err != nil {
		return err
	}
	if !found {
		return vaulterr.New(vaulterr.CodeAccountNotFound, "account not found",
			vaulterr.FieldProtocol(id.ProtocolID), vaulterr.FieldUsername(id.Username))
	}
	if acct.RememberPassword() {
		p.skip(OpLoad, id, "account remembers its password")
		return nil
	}
	if !ok {
		err := unresolved(OpLoad, id)
		p.metrics.Started()
		_ = p.loop.Do(ctx, func() { p.finish(Result{Op: OpLoad, Identity: id, Err: err}, protocolName) })
		return err
	}

	p.metrics.Started()
	res, err := search(ctx, svc, handle, id)
	defer res.secret.Destroy()

	if doErr := p.loop.Do(ctx, func() {
		if err == nil {
			p.applyLoaded(id, res, "sync")
		}
		p.finish(Result{Op: OpLoad, Identity: id, RequestID: "sync", Matches: res.matches, Err: err}, protocolName)
	}); doErr != nil {
		return doErr
	}
	return err
}
