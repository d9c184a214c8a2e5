// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package pipeline

import (
	"context"
	"log/slog"

	"github.com/awnumar/memguard"
	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/metrics"
	"github.com/imvault/imvault/internal/secretservice"
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Delete clears the account's remember flag and removes every record
// matching its identity. A failure on one record does not stop the others.
// Must be called on the loop.
func (p *Pipeline) Delete(ctx context.Context, a account.Account) {
	id := a.Identity()
	protocolName := a.ProtocolName()
	a.SetRememberPassword(false)

	svc, handle, ok := p.vault.Current()
	p.metrics.Started()
	if !ok {
		p.finish(Result{Op: OpDelete, Identity: id, Err: unresolved(OpDelete, id)}, protocolName)
		return
	}

	var searchID string
	searchID = eventloop.Request(p.loop, ctx, "delete-search", func(ctx context.Context) ([]secretservice.Item, error) {
		items, err := svc.SearchItems(ctx, handle, id.Attributes(), true)
		if err != nil {
			return nil, vault.Classify(err, vaulterr.CodeItemSearchFailure, "searching items",
				vaulterr.FieldCollection(handle.Label))
		}
		out := items[:0]
		for _, it := range items {
			memguard.WipeBytes(it.Secret)
			it.Secret = nil
			if id.Matches(it.Attributes) {
				out = append(out, it)
			}
		}
		return out, nil
	}, func(items []secretservice.Item, err error) {
		if err != nil || len(items) == 0 {
			if err == nil {
				slog.Info("no stored password to delete", "protocol", id.ProtocolID, "username", id.Username)
			}
			p.finish(Result{Op: OpDelete, Identity: id, RequestID: searchID, Err: err}, protocolName)
			return
		}

		remaining := len(items)
		var errs []error
		for _, it := range items {
			eventloop.Request(p.loop, ctx, "delete", func(ctx context.Context) (struct{}, error) {
				if err := svc.DeleteItem(ctx, it); err != nil {
					return struct{}{}, vault.Classify(err, vaulterr.CodeItemDeleteFailure, "deleting item",
						vaulterr.Field("item", it.Path))
				}
				return struct{}{}, nil
			}, func(_ struct{}, err error) {
				remaining--
				if err != nil {
					slog.Error("deleting password record failed", "protocol", id.ProtocolID,
						"username", id.Username, "item", it.Path, "error", err)
					p.notifier.Error(Title, protocolName+": "+OpDelete.describe(), err.Error())
					errs = append(errs, err)
				} else {
					slog.Info("password deleted", "protocol", id.ProtocolID, "username", id.Username, "item", it.Path)
				}
				if remaining > 0 {
					return
				}
				p.finishDelete(Result{Op: OpDelete, Identity: id, RequestID: searchID, Matches: len(items)}, errs)
			})
		}
	})
}

// finishDelete records the aggregate outcome. Individual failures were
// already reported.
func (p *Pipeline) finishDelete(res Result, errs []error) {
	result := metrics.ResultSuccess
	if len(errs) > 0 {
		res.Err = vaulterr.Join(errs...)
		result = metrics.ResultFailure
	}
	p.metrics.Finished(string(OpDelete), result)
	if p.observer != nil {
		p.observer(res)
	}
}
