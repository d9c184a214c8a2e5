// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package store

import "context"

// PrefStore is the persisted key/value preference store.
type PrefStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent writes value only when key has no value yet and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	List(ctx context.Context) ([]*Pref, error)
	Delete(ctx context.Context, key string) error
}

// AccountStore persists the accounts known to the account host.
type AccountStore interface {
	Put(ctx context.Context, account *AccountRecord) error
	Get(ctx context.Context, protocolID, username string) (*AccountRecord, error)
	List(ctx context.Context) ([]*AccountRecord, error)
	Delete(ctx context.Context, protocolID, username string) error
}

// Store groups the sub-stores of one data directory.
type Store interface {
	Prefs() PrefStore
	Accounts() AccountStore
	Close() error
}
