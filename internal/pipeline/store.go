// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package pipeline

import (
	"context"
	"log/slog"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/secretservice"
	"github.com/imvault/imvault/internal/secure"
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Store writes the account's current password into the collection,
// replacing an existing record with the same attributes. On success the
// account stops remembering its password. Must be called on the loop.
func (p *Pipeline) Store(ctx context.Context, a account.Account) {
	id := a.Identity()
	if !account.HasPassword(a) {
		p.skip(OpStore, id, "no password")
		return
	}

	protocolName := a.ProtocolName()
	secret := secure.FromString(a.Password())
	label := id.Label(protocolName)

	p.metrics.Started()
	p.vault.EnsureUnlocked(ctx, vault.PurposeOperation, func(_ vault.Unlocked, err error) {
		if err != nil {
			secret.Destroy()
			p.finish(Result{Op: OpStore, Identity: id, Err: err}, protocolName)
			return
		}

		svc, handle, ok := p.vault.Current()
		if !ok {
			secret.Destroy()
			p.finish(Result{Op: OpStore, Identity: id, Err: unresolved(OpStore, id)}, protocolName)
			return
		}

		var reqID string
		reqID = eventloop.Request(p.loop, ctx, "store", func(ctx context.Context) (secretservice.Item, error) {
			buf, err := secret.Open()
			if err != nil {
				return secretservice.Item{}, vaulterr.Wrap(err, vaulterr.CodeSecretInvalidInput, "opening transient secret")
			}
			defer buf.Destroy()

			item, err := svc.CreateItem(ctx, handle, secretservice.Item{
				Label:       label,
				Attributes:  id.Attributes(),
				Secret:      buf.Bytes(),
				ContentType: credential.ContentType,
			}, true)
			if err != nil {
				return item, vault.Classify(err, vaulterr.CodeItemCreateFailure, "creating item",
					vaulterr.FieldCollection(handle.Label))
			}
			return item, nil
		}, func(item secretservice.Item, err error) {
			secret.Destroy()
			if err == nil {
				if acct, ok := p.lookup(OpStore, id); ok {
					acct.SetRememberPassword(false)
				}
				slog.Info("password stored",
					"protocol", id.ProtocolID,
					"username", id.Username,
					"collection", handle.Label,
					"item", item.Path,
					"request_id", reqID,
				)
			}
			p.finish(Result{Op: OpStore, Identity: id, RequestID: reqID, Matches: 1, Err: err}, protocolName)
		})
		slog.Debug("store issued", "protocol", id.ProtocolID, "username", id.Username, "request_id", reqID)
	})
}
