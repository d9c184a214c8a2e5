// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package pipeline implements the store, load and delete operations against
// the vault's collection. Operations return immediately; their completions
// run later on the event loop.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/metrics"
	"github.com/imvault/imvault/internal/notify"
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Title heads every notification the pipeline emits.
const Title = "Imvault"

// Operation names one credential operation.
type Operation string

const (
	OpStore  Operation = metrics.OpStore
	OpLoad   Operation = metrics.OpLoad
	OpDelete Operation = metrics.OpDelete
)

func (o Operation) describe() string {
	switch o {
	case OpStore:
		return "storing password"
	case OpLoad:
		return "loading password"
	case OpDelete:
		return "deleting password"
	default:
		return string(o)
	}
}

// Result is reported once per finished operation.
type Result struct {
	Op        Operation
	Identity  credential.Identity
	RequestID string
	// Matches is the number of records found by load and delete.
	Matches int
	Err     error
}

// Directory re-validates accounts when a completion arrives.
type Directory interface {
	Find(id credential.Identity) (account.Account, bool)
}

// Pipeline issues credential operations.
type Pipeline struct {
	loop     *eventloop.Loop
	vault    *vault.Manager
	accounts Directory
	notifier notify.Notifier
	metrics  *metrics.Metrics
	observer func(Result)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics counts operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithObserver is called on the loop after every finished operation.
func WithObserver(fn func(Result)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// New returns a pipeline working against the collection held by v.
func New(loop *eventloop.Loop, v *vault.Manager, accounts Directory, n notify.Notifier, opts ...Option) *Pipeline {
	p := &Pipeline{loop: loop, vault: v, accounts: accounts, notifier: n}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// finish reports the outcome of an operation. Errors become a
// protocol-scoped notification; nothing is retried.
func (p *Pipeline) finish(res Result, protocolName string) {
	result := metrics.ResultSuccess
	switch {
	case res.Err != nil:
		result = metrics.ResultFailure
		slog.Error(res.Op.describe()+" failed",
			"protocol", res.Identity.ProtocolID,
			"username", res.Identity.Username,
			"request_id", res.RequestID,
			"code", vaulterr.CodeOf(res.Err),
			"error", res.Err,
		)
		p.notifier.Error(Title, fmt.Sprintf("%s: %s", protocolName, res.Op.describe()), res.Err.Error())
	case res.Op != OpStore && res.Matches == 0:
		result = metrics.ResultNotFound
	}
	p.metrics.Finished(string(res.Op), result)

	if p.observer != nil {
		p.observer(res)
	}
}

// skip reports an operation that never reached the service.
func (p *Pipeline) skip(op Operation, id credential.Identity, reason string) {
	slog.Debug(op.describe()+" skipped", "protocol", id.ProtocolID, "username", id.Username, "reason", reason)
	p.metrics.Skipped(string(op))
}

// lookup re-validates an account identity after a suspension point.
func (p *Pipeline) lookup(op Operation, id credential.Identity) (account.Account, bool) {
	a, ok := p.accounts.Find(id)
	if !ok {
		slog.Debug("account vanished before completion", "operation", string(op),
			"protocol", id.ProtocolID, "username", id.Username)
	}
	return a, ok
}

func unresolved(op Operation, id credential.Identity) error {
	return vaulterr.New(vaulterr.CodeCollectionUnresolved, "no collection resolved",
		vaulterr.FieldOperation(string(op)),
		vaulterr.FieldProtocol(id.ProtocolID), vaulterr.FieldUsername(id.Username))
}
