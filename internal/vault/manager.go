// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package vault owns the single collection handle of the plugin. Every
// method except Status must be called on the event loop; completions are
// delivered on the loop too.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/metrics"
	"github.com/imvault/imvault/internal/secretservice"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// DefaultTimeout bounds every request to the secret service.
const DefaultTimeout = 2 * time.Minute

// Manager resolves, unlocks and locks one collection and caches its handle.
type Manager struct {
	loop    *eventloop.Loop
	connect secretservice.Connector
	metrics *metrics.Metrics
	timeout time.Duration

	// Loop-owned.
	svc        secretservice.Service
	handle     secretservice.Collection
	state      State
	selector   Selector
	generation uint64
	unlocking  *unlockBatch
}

// unlockBatch collects every caller waiting on one in-flight unlock.
type unlockBatch struct {
	generation uint64
	waiters    []unlockWaiter
}

type unlockWaiter struct {
	purpose Purpose
	done    func(Unlocked, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records unlock outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithTimeout bounds each request to the secret service.
func WithTimeout(d time.Duration) Option {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.timeout = d
		}
	}
}

// NewManager returns a manager in StateUnresolved.
func NewManager(loop *eventloop.Loop, connect secretservice.Connector, opts ...Option) *Manager {
	m := &Manager{loop: loop, connect: connect, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// Current returns the service session and collection handle held right now.
// ok is false until a collection has been resolved.
func (m *Manager) Current() (secretservice.Service, secretservice.Collection, bool) {
	if m.svc == nil || m.handle.IsZero() || m.state == StateReleased {
		return nil, secretservice.Collection{}, false
	}
	return m.svc, m.handle, true
}

// Snapshot describes the manager.
func (m *Manager) Snapshot() Status {
	return Status{
		State:      m.state.String(),
		Collection: m.handle.Label,
		Path:       m.handle.Path,
		Selector:   m.selector.String(),
	}
}

// Status reads Snapshot from any goroutine.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.loop.Do(ctx, func() { st = m.Snapshot() })
	return st, err
}

func (m *Manager) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

type resolved struct {
	svc    secretservice.Service
	handle secretservice.Collection
	locked bool
	opened bool
}

// Resolve connects if needed and resolves the collection named by sel. Any
// previously held handle is released first.
func (m *Manager) Resolve(ctx context.Context, sel Selector, done func(secretservice.Collection, error)) {
	m.dropHandle()
	m.state = StateResolving
	m.selector = sel
	m.generation++
	gen := m.generation
	svc := m.svc
	connect := m.connect

	eventloop.Request(m.loop, ctx, "resolve", func(ctx context.Context) (resolved, error) {
		ctx, cancel := m.requestContext(ctx)
		defer cancel()

		res := resolved{svc: svc}
		if res.svc == nil {
			s, err := connect(ctx)
			if err != nil {
				return res, Classify(err, vaulterr.CodeServiceUnavailable, "connecting to secret service")
			}
			res.svc = s
			res.opened = true
		}

		c, err := resolveCollection(ctx, res.svc, sel)
		if err != nil {
			return res, err
		}
		res.handle = c

		locked, err := res.svc.IsLocked(ctx, c)
		if err != nil {
			return res, Classify(err, vaulterr.CodeCollectionUnresolved, "reading lock state",
				vaulterr.FieldCollection(c.Label))
		}
		res.locked = locked
		return res, nil
	}, func(res resolved, err error) {
		if res.opened {
			if m.svc != nil || gen != m.generation {
				_ = res.svc.Close()
			} else {
				m.svc = res.svc
			}
		}
		if gen != m.generation {
			done(secretservice.Collection{}, vaulterr.New(vaulterr.CodeCollectionUnresolved,
				"collection resolution superseded", vaulterr.FieldCollection(sel.String())))
			return
		}
		if err != nil {
			m.state = StateUnresolved
			slog.Error("resolving collection failed", "selector", sel.String(), "error", err)
			done(secretservice.Collection{}, err)
			return
		}

		m.handle = res.handle
		m.state = StateUnlocked
		if res.locked {
			m.state = StateLocked
		}
		slog.Info("collection resolved", "collection", res.handle.Label, "path", res.handle.Path, "state", m.state.String())
		done(res.handle, nil)
	})
}

func resolveCollection(ctx context.Context, svc secretservice.Service, sel Selector) (secretservice.Collection, error) {
	if sel.IsDefault() {
		c, err := svc.CollectionForAlias(ctx, secretservice.DefaultAlias)
		if errors.Is(err, secretservice.ErrNoSuchObject) {
			return c, Classify(err, vaulterr.CodeCollectionNotFound, "default collection not found",
				vaulterr.FieldCollection(secretservice.DefaultAlias))
		}
		if err != nil {
			return c, Classify(err, vaulterr.CodeCollectionUnresolved, "resolving default collection",
				vaulterr.FieldCollection(secretservice.DefaultAlias))
		}
		n, err := svc.LoadItems(ctx, c)
		if err != nil {
			return c, Classify(err, vaulterr.CodeCollectionUnresolved, "loading collection items",
				vaulterr.FieldCollection(c.Label))
		}
		slog.Debug("default collection loaded", "collection", c.Label, "items", n)
		return c, nil
	}

	all, err := svc.Collections(ctx)
	if err != nil {
		return secretservice.Collection{}, Classify(err, vaulterr.CodeServiceUnavailable, "enumerating collections")
	}
	if len(all) == 0 {
		return secretservice.Collection{}, vaulterr.New(vaulterr.CodeServiceUnavailable,
			"secret service exposes no collections")
	}
	for _, c := range all {
		if c.Label == sel.Name {
			return c, nil
		}
	}
	return secretservice.Collection{}, vaulterr.New(vaulterr.CodeCollectionNotFound, "no collection with this label",
		vaulterr.FieldCollection(sel.Name), vaulterr.Field("available", len(all)))
}

type unlockResult struct {
	handle secretservice.Collection
	was    bool
}

// EnsureUnlocked unlocks the current collection if it is locked. On success
// the handle returned by the service replaces the cached one. Callers
// arriving while an unlock is in flight share its outcome, so the service is
// asked at most once.
func (m *Manager) EnsureUnlocked(ctx context.Context, purpose Purpose, done func(Unlocked, error)) {
	svc, handle, ok := m.Current()
	if !ok {
		done(Unlocked{Purpose: purpose}, vaulterr.New(vaulterr.CodeCollectionUnresolved, "no collection resolved"))
		return
	}
	waiter := unlockWaiter{purpose: purpose, done: done}
	if b := m.unlocking; b != nil && b.generation == m.generation {
		b.waiters = append(b.waiters, waiter)
		slog.Debug("joining in-flight unlock", "collection", handle.Label, "purpose", purpose.String(),
			"waiters", len(b.waiters))
		return
	}
	batch := &unlockBatch{generation: m.generation, waiters: []unlockWaiter{waiter}}
	m.unlocking = batch

	eventloop.Request(m.loop, ctx, "unlock", func(ctx context.Context) (unlockResult, error) {
		ctx, cancel := m.requestContext(ctx)
		defer cancel()

		locked, err := svc.IsLocked(ctx, handle)
		if err != nil {
			return unlockResult{}, Classify(err, vaulterr.CodeUnlockDenied, "reading lock state",
				vaulterr.FieldCollection(handle.Label))
		}
		if !locked {
			return unlockResult{handle: handle}, nil
		}
		next, err := svc.Unlock(ctx, handle)
		if err != nil {
			return unlockResult{was: true}, Classify(err, vaulterr.CodeUnlockDenied, "unlocking collection",
				vaulterr.FieldCollection(handle.Label))
		}
		return unlockResult{handle: next, was: true}, nil
	}, func(res unlockResult, err error) {
		if m.unlocking == batch {
			m.unlocking = nil
		}
		if res.was {
			m.metrics.Unlock(err == nil)
		}
		if err != nil {
			slog.Warn("collection unlock failed", "collection", handle.Label, "waiters", len(batch.waiters), "error", err)
			for _, w := range batch.waiters {
				w.done(Unlocked{Purpose: w.purpose}, err)
			}
			return
		}

		current := res.handle
		if batch.generation == m.generation && m.state != StateReleased {
			if res.handle.Path != m.handle.Path {
				slog.Debug("collection handle replaced after unlock", "old", m.handle.Path, "new", res.handle.Path)
			}
			m.handle = res.handle
			m.state = StateUnlocked
		} else if _, h, ok := m.Current(); ok {
			current = h
		}
		if res.was {
			slog.Info("collection unlocked", "collection", current.Label, "waiters", len(batch.waiters))
		}
		for _, w := range batch.waiters {
			w.done(Unlocked{Collection: current, Purpose: w.purpose}, nil)
		}
	})
}

// Lock locks the current collection.
func (m *Manager) Lock(ctx context.Context, done func(error)) {
	svc, handle, ok := m.Current()
	if !ok {
		done(vaulterr.New(vaulterr.CodeCollectionUnresolved, "no collection resolved"))
		return
	}
	gen := m.generation

	eventloop.Request(m.loop, ctx, "lock", func(ctx context.Context) (struct{}, error) {
		ctx, cancel := m.requestContext(ctx)
		defer cancel()
		if err := svc.Lock(ctx, handle); err != nil {
			return struct{}{}, Classify(err, vaulterr.CodeLockFailure, "locking collection",
				vaulterr.FieldCollection(handle.Label))
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err == nil && gen == m.generation && m.state != StateReleased {
			m.state = StateLocked
			slog.Info("collection locked", "collection", handle.Label)
		}
		done(err)
	})
}

// Release drops the handle and closes the service session. The manager can
// be resolved again afterwards.
func (m *Manager) Release() {
	m.dropHandle()
	m.generation++
	m.state = StateReleased

	svc := m.svc
	m.svc = nil
	if svc == nil {
		return
	}
	eventloop.Request(m.loop, context.Background(), "close", func(context.Context) (struct{}, error) {
		return struct{}{}, svc.Close()
	}, func(_ struct{}, err error) {
		if err != nil {
			slog.Warn("closing secret service session", "error", err)
		}
	})
}

func (m *Manager) dropHandle() {
	if !m.handle.IsZero() {
		slog.Debug("releasing collection handle", "collection", m.handle.Label, "path", m.handle.Path)
	}
	m.handle = secretservice.Collection{}
}
