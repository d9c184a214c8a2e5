// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package secretservice is the boundary to the system secret-storage service.
// Every method is a blocking request/response call; the vault layer runs
// them off the event loop and routes completions back.
package secretservice

import (
	"context"
	"errors"
	"sort"
	"sync"

	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// DefaultAlias is the well-known alias of the user's default collection.
const DefaultAlias = "default"

// Sentinel errors returned by backends. The vault layer classifies them into
// coded errors; backends never attach codes themselves.
var (
	// ErrUnavailable means the transport or service cannot be reached.
	ErrUnavailable = errors.New("secret service unavailable")
	// ErrNoSuchObject means a collection, alias or item does not exist.
	ErrNoSuchObject = errors.New("no such object")
	// ErrDismissed means the user or service declined an unlock prompt.
	ErrDismissed = errors.New("prompt dismissed")
	// ErrLocked means plaintext access was attempted on a locked collection.
	ErrLocked = errors.New("collection is locked")
)

// Collection is a handle to one collection. Lock state is not part of the
// handle; ask the service with IsLocked.
type Collection struct {
	Path  string
	Label string
}

// IsZero reports whether the handle is unset.
func (c Collection) IsZero() bool {
	return c.Path == ""
}

// Item is one stored secret record.
type Item struct {
	Path        string
	Label       string
	Attributes  map[string]string
	Secret      []byte
	ContentType string
}

// Service is an open session with the secret-storage service.
type Service interface {
	// Collections enumerates every collection the service exposes.
	Collections(ctx context.Context) ([]Collection, error)

	// CollectionForAlias resolves an alias such as "default".
	CollectionForAlias(ctx context.Context, alias string) (Collection, error)

	// LoadItems eagerly loads the item list of a collection and returns
	// how many items it holds.
	LoadItems(ctx context.Context, c Collection) (int, error)

	// IsLocked reports the current lock state of a collection.
	IsLocked(ctx context.Context, c Collection) (bool, error)

	// Unlock unlocks a collection, prompting the user if needed, and
	// returns the handle to use from now on.
	Unlock(ctx context.Context, c Collection) (Collection, error)

	// Lock locks a collection.
	Lock(ctx context.Context, c Collection) error

	// CreateItem stores item in c. With replace set an existing item with
	// the same attributes is overwritten instead of duplicated.
	CreateItem(ctx context.Context, c Collection, item Item, replace bool) (Item, error)

	// SearchItems returns items of c whose attributes include attrs. With
	// unlock set, secrets are loaded (unlocking first if needed).
	SearchItems(ctx context.Context, c Collection, attrs map[string]string, unlock bool) ([]Item, error)

	// DeleteItem removes one item.
	DeleteItem(ctx context.Context, item Item) error

	// Close ends the session.
	Close() error
}

// Connector opens a session with the service.
type Connector func(ctx context.Context) (Service, error)

// Options carries backend settings taken from configuration.
type Options struct {
	// KeyringService prefixes the service name used by the keyring backend.
	KeyringService string
	// SessionBus overrides the D-Bus session bus address.
	SessionBus string
}

// Factory builds a connector for one backend.
type Factory func(opts Options) (Connector, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// Register makes a backend available under name. Backend packages call this
// from init().
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Open returns the connector of the backend registered under name.
func Open(name string, opts Options) (Connector, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, vaulterr.New(vaulterr.CodeBackendUnsupported, "unsupported secret service backend",
			vaulterr.Field("backend", name))
	}
	return f(opts)
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MatchAttributes reports whether have contains every key/value of want.
func MatchAttributes(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}
