// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package account

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/store"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Manager is the registry of accounts keyed by identity.
type Manager struct {
	mu       sync.RWMutex
	accounts map[credential.Identity]*Record
	subs     map[int]func(Event)
	nextSub  int
	store    store.AccountStore
}

// NewManager returns a manager persisting to s. A nil store keeps
// accounts in memory only.
func NewManager(s store.AccountStore) *Manager {
	return &Manager{
		accounts: make(map[credential.Identity]*Record),
		subs:     make(map[int]func(Event)),
		store:    s,
	}
}

// LoadAll registers every persisted account without publishing events.
func (m *Manager) LoadAll(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	recs, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		r := NewRecord(Spec{
			ProtocolID:       rec.ProtocolID,
			ProtocolName:     rec.ProtocolName,
			Username:         rec.Username,
			Password:         rec.Password,
			RememberPassword: rec.RememberPassword,
			Enabled:          rec.Enabled,
		})
		r.persisted = rec.Password
		r.changed = m.persist
		m.accounts[r.id] = r
	}
	return nil
}

// Subscribe registers fn for every future event and returns a function
// that removes it.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered listeners.
func (m *Manager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *Manager) publish(ev Event) {
	m.mu.RLock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Add creates and registers an account, then publishes EventAdded.
func (m *Manager) Add(ctx context.Context, s Spec) (*Record, error) {
	if s.ProtocolID == "" || s.Username == "" {
		return nil, vaulterr.New(vaulterr.CodeAccountInvalidInput, "protocol and username are required")
	}
	r := NewRecord(s)

	m.mu.Lock()
	if _, exists := m.accounts[r.id]; exists {
		m.mu.Unlock()
		return nil, vaulterr.New(vaulterr.CodeAccountConflict, "account already exists",
			vaulterr.FieldProtocol(s.ProtocolID), vaulterr.FieldUsername(s.Username))
	}
	m.accounts[r.id] = r
	m.mu.Unlock()

	if err := m.save(ctx, r); err != nil {
		m.mu.Lock()
		delete(m.accounts, r.id)
		m.mu.Unlock()
		return nil, err
	}
	r.mu.Lock()
	r.changed = m.persist
	r.mu.Unlock()

	slog.Info("account added", "protocol", s.ProtocolID, "username", s.Username)
	m.publish(Event{Kind: EventAdded, Account: r})
	return r, nil
}

// Remove unregisters an account and publishes EventRemoved.
func (m *Manager) Remove(ctx context.Context, id credential.Identity) error {
	m.mu.Lock()
	r, ok := m.accounts[id]
	if ok {
		delete(m.accounts, id)
	}
	m.mu.Unlock()
	if !ok {
		return notFound(id)
	}

	r.mu.Lock()
	r.changed = nil
	r.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, id.ProtocolID, id.Username); err != nil && !vaulterr.IsNotFound(err) {
			return err
		}
	}

	slog.Info("account removed", "protocol", id.ProtocolID, "username", id.Username)
	m.publish(Event{Kind: EventRemoved, Account: r})
	return nil
}

// Enable marks an account enabled and publishes EventEnabled.
func (m *Manager) Enable(_ context.Context, id credential.Identity) error {
	r, ok := m.Lookup(id)
	if !ok {
		return notFound(id)
	}
	r.setEnabled(true)
	m.publish(Event{Kind: EventEnabled, Account: r})
	return nil
}

// Disable marks an account disabled and publishes EventDisabled.
func (m *Manager) Disable(_ context.Context, id credential.Identity) error {
	r, ok := m.Lookup(id)
	if !ok {
		return notFound(id)
	}
	r.setEnabled(false)
	m.publish(Event{Kind: EventDisabled, Account: r})
	return nil
}

// SignOn publishes EventSignedOn for an account.
func (m *Manager) SignOn(_ context.Context, id credential.Identity) error {
	r, ok := m.Lookup(id)
	if !ok {
		return notFound(id)
	}
	m.publish(Event{Kind: EventSignedOn, Account: r})
	return nil
}

// ConnectionError publishes EventConnectionError for an account.
func (m *Manager) ConnectionError(_ context.Context, id credential.Identity, kind Failure, description string) error {
	r, ok := m.Lookup(id)
	if !ok {
		return notFound(id)
	}
	if kind == FailureNone {
		return vaulterr.New(vaulterr.CodeAccountInvalidInput, "connection error needs a failure kind")
	}
	m.publish(Event{Kind: EventConnectionError, Account: r, Failure: kind, Description: description})
	return nil
}

// Lookup returns the registered account with the given identity.
func (m *Manager) Lookup(id credential.Identity) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.accounts[id]
	return r, ok
}

// Find is Lookup returning the accessor interface.
func (m *Manager) Find(id credential.Identity) (Account, bool) {
	r, ok := m.Lookup(id)
	if !ok {
		return nil, false
	}
	return r, true
}

// All returns every registered account ordered by protocol and username.
func (m *Manager) All() []*Record {
	m.mu.RLock()
	out := make([]*Record, 0, len(m.accounts))
	for _, r := range m.accounts {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].id.ProtocolID != out[j].id.ProtocolID {
			return out[i].id.ProtocolID < out[j].id.ProtocolID
		}
		return out[i].id.Username < out[j].id.Username
	})
	return out
}

func (m *Manager) persist(r *Record) {
	if err := m.save(context.Background(), r); err != nil {
		slog.Warn("persisting account failed", "protocol", r.id.ProtocolID, "username", r.id.Username, "error", err)
	}
}

// save writes r to the store. The password is only written while the
// account remembers it. The placeholder is never written: the previous
// copy stays on disk until the account stops remembering its password,
// which happens once the vault holds it.
func (m *Manager) save(ctx context.Context, r *Record) error {
	if m.store == nil {
		return nil
	}
	r.mu.Lock()
	rec := &store.AccountRecord{
		ProtocolID:       r.id.ProtocolID,
		ProtocolName:     r.protocolName,
		Username:         r.id.Username,
		Enabled:          r.enabled,
		RememberPassword: r.remember,
	}
	switch {
	case !r.remember:
	case r.password == Placeholder:
		rec.Password = r.persisted
	default:
		rec.Password = r.password
	}
	r.mu.Unlock()

	if err := m.store.Put(ctx, rec); err != nil {
		return err
	}
	r.mu.Lock()
	r.persisted = rec.Password
	r.mu.Unlock()
	return nil
}

func notFound(id credential.Identity) error {
	return vaulterr.New(vaulterr.CodeAccountNotFound, "account not found",
		vaulterr.FieldProtocol(id.ProtocolID), vaulterr.FieldUsername(id.Username))
}
