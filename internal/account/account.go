// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package account is the instant-messaging account host: it owns account
// objects, persists them and publishes their lifecycle events.
package account

import (
	"sync"

	"github.com/imvault/imvault/internal/credential"
)

// Placeholder replaces a password once the vault holds it. It is never
// stored and never sent to the vault.
const Placeholder = "<stored in vault>"

// Account is the accessor surface the vault plugin uses. It never creates
// or destroys accounts.
type Account interface {
	Identity() credential.Identity
	ProtocolID() string
	ProtocolName() string
	Username() string
	Password() string
	SetPassword(password string)
	RememberPassword() bool
	SetRememberPassword(remember bool)
	Enabled() bool
}

// HasPassword reports whether a holds a real password.
func HasPassword(a Account) bool {
	pw := a.Password()
	return pw != "" && pw != Placeholder
}

// Record is the host's concrete account.
type Record struct {
	mu           sync.RWMutex
	id           credential.Identity
	protocolName string
	password     string
	remember     bool
	enabled      bool

	// persisted is the password last written to the store.
	persisted string

	// changed is called after every mutation. Set by the Manager.
	changed func(*Record)
}

// Spec describes an account to create.
type Spec struct {
	ProtocolID       string
	ProtocolName     string
	Username         string
	Password         string
	RememberPassword bool
	Enabled          bool
}

// NewRecord builds a detached record. Use Manager.Add to register one.
func NewRecord(s Spec) *Record {
	return &Record{
		id:           credential.New(s.ProtocolID, s.Username),
		protocolName: s.ProtocolName,
		password:     s.Password,
		remember:     s.RememberPassword,
		enabled:      s.Enabled,
	}
}

func (r *Record) Identity() credential.Identity { return r.id }
func (r *Record) ProtocolID() string            { return r.id.ProtocolID }
func (r *Record) Username() string              { return r.id.Username }

func (r *Record) ProtocolName() string {
	if r.protocolName == "" {
		return r.id.ProtocolID
	}
	return r.protocolName
}

func (r *Record) Password() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.password
}

func (r *Record) SetPassword(password string) {
	r.mu.Lock()
	r.password = password
	r.mu.Unlock()
	r.notify()
}

func (r *Record) RememberPassword() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remember
}

func (r *Record) SetRememberPassword(remember bool) {
	r.mu.Lock()
	r.remember = remember
	r.mu.Unlock()
	r.notify()
}

func (r *Record) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

func (r *Record) setEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
	r.notify()
}

func (r *Record) notify() {
	r.mu.RLock()
	fn := r.changed
	r.mu.RUnlock()
	if fn != nil {
		fn(r)
	}
}

// Snapshot is a read-only view of a record without its password.
type Snapshot struct {
	ProtocolID       string `json:"protocol_id"`
	ProtocolName     string `json:"protocol_name"`
	Username         string `json:"username"`
	Enabled          bool   `json:"enabled"`
	RememberPassword bool   `json:"remember_password"`
	HasPassword      bool   `json:"has_password"`
}

// Snapshot returns the current state of r.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		ProtocolID:       r.ProtocolID(),
		ProtocolName:     r.ProtocolName(),
		Username:         r.Username(),
		Enabled:          r.Enabled(),
		RememberPassword: r.RememberPassword(),
		HasPassword:      HasPassword(r),
	}
}
