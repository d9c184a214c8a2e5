// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package prefs gives typed access to the persisted plugin preferences.
package prefs

import (
	"context"
	"sort"
	"strconv"

	"github.com/imvault/imvault/internal/store"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Preference keys.
const (
	KeyPhase          = "plugin.phase"
	KeyCleanUnload    = "plugin.clean_unload"
	KeyMigrationDue   = "plugin.migration_pending"
	KeyUseCustom      = "vault.collection.use_custom"
	KeyCollectionName = "vault.collection.name"
	KeyAutoSave       = "vault.auto_save"
	KeyAutoLock       = "vault.auto_lock"
)

// DefaultCollectionName is the label used when no custom collection is set.
const DefaultCollectionName = "default"

type kind int

const (
	kindString kind = iota
	kindBool
	kindInt
)

var known = map[string]kind{
	KeyPhase:          kindInt,
	KeyCleanUnload:    kindBool,
	KeyMigrationDue:   kindBool,
	KeyUseCustom:      kindBool,
	KeyCollectionName: kindString,
	KeyAutoSave:       kindBool,
	KeyAutoLock:       kindBool,
}

// Keys returns every known preference key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults are the values seeded when a preference has never been written.
type Defaults struct {
	UseCustom      bool
	CollectionName string
	AutoSave       bool
	AutoLock       bool
}

// Prefs wraps a store.PrefStore with typed accessors.
type Prefs struct {
	store store.PrefStore
}

// New returns typed preferences on top of s.
func New(s store.PrefStore) *Prefs {
	return &Prefs{store: s}
}

// Seed adds every default that has no persisted value yet. Existing values
// are never overwritten.
func (p *Prefs) Seed(ctx context.Context, d Defaults) error {
	name := d.CollectionName
	if name == "" {
		name = DefaultCollectionName
	}
	seed := []struct{ key, value string }{
		{KeyUseCustom, strconv.FormatBool(d.UseCustom)},
		{KeyCollectionName, name},
		{KeyAutoSave, strconv.FormatBool(d.AutoSave)},
		{KeyAutoLock, strconv.FormatBool(d.AutoLock)},
	}
	for _, s := range seed {
		if _, err := p.store.SetIfAbsent(ctx, s.key, s.value); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the raw value of a known key.
func (p *Prefs) Get(ctx context.Context, key string) (string, error) {
	if _, ok := known[key]; !ok {
		return "", unknownKey(key)
	}
	return p.store.Get(ctx, key)
}

// Set validates and writes the raw value of a known key.
func (p *Prefs) Set(ctx context.Context, key, value string) error {
	k, ok := known[key]
	if !ok {
		return unknownKey(key)
	}
	switch k {
	case kindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return vaulterr.Wrapf(err, vaulterr.CodeConfigValidateInvalidValue, "%s expects a boolean", key)
		}
	case kindInt:
		if _, err := strconv.Atoi(value); err != nil {
			return vaulterr.Wrapf(err, vaulterr.CodeConfigValidateInvalidValue, "%s expects an integer", key)
		}
	}
	return p.store.Set(ctx, key, value)
}

// List returns every persisted preference.
func (p *Prefs) List(ctx context.Context) ([]*store.Pref, error) {
	return p.store.List(ctx)
}

// Phase returns the persisted plugin phase. ok is false when none was ever
// written or the value is not an integer.
func (p *Prefs) Phase(ctx context.Context) (phase int, ok bool, err error) {
	raw, err := p.store.Get(ctx, KeyPhase)
	if vaulterr.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// SetPhase persists the plugin phase.
func (p *Prefs) SetPhase(ctx context.Context, phase int) error {
	return p.store.Set(ctx, KeyPhase, strconv.Itoa(phase))
}

// CleanUnload reports whether the previous session unloaded cleanly.
func (p *Prefs) CleanUnload(ctx context.Context) (bool, error) {
	return p.boolValue(ctx, KeyCleanUnload, false)
}

// SetCleanUnload records whether the current session unloaded cleanly.
func (p *Prefs) SetCleanUnload(ctx context.Context, clean bool) error {
	return p.store.Set(ctx, KeyCleanUnload, strconv.FormatBool(clean))
}

// MigrationPending reports whether a migration offer could not be made and
// must be repeated on the next load.
func (p *Prefs) MigrationPending(ctx context.Context) (bool, error) {
	return p.boolValue(ctx, KeyMigrationDue, false)
}

// SetMigrationPending records whether the migration offer is still owed.
func (p *Prefs) SetMigrationPending(ctx context.Context, pending bool) error {
	return p.store.Set(ctx, KeyMigrationDue, strconv.FormatBool(pending))
}

// UseCustomCollection reports whether a named collection is configured.
func (p *Prefs) UseCustomCollection(ctx context.Context) (bool, error) {
	return p.boolValue(ctx, KeyUseCustom, false)
}

// CollectionName returns the configured collection label.
func (p *Prefs) CollectionName(ctx context.Context) (string, error) {
	raw, err := p.store.Get(ctx, KeyCollectionName)
	if vaulterr.IsNotFound(err) {
		return DefaultCollectionName, nil
	}
	return raw, err
}

// AutoSave reports whether added and removed accounts are synced.
func (p *Prefs) AutoSave(ctx context.Context) (bool, error) {
	return p.boolValue(ctx, KeyAutoSave, true)
}

// AutoLock reports whether the collection is locked on unload.
func (p *Prefs) AutoLock(ctx context.Context) (bool, error) {
	return p.boolValue(ctx, KeyAutoLock, false)
}

func (p *Prefs) boolValue(ctx context.Context, key string, def bool) (bool, error) {
	raw, err := p.store.Get(ctx, key)
	if vaulterr.IsNotFound(err) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, vaulterr.Wrapf(err, vaulterr.CodeConfigParseInvalidFormat, "%s holds %q", key, raw)
	}
	return b, nil
}

func unknownKey(key string) error {
	return vaulterr.New(vaulterr.CodeConfigValidateInvalidValue, "unknown preference",
		vaulterr.Field("key", key))
}
