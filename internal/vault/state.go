// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package vault

import "github.com/imvault/imvault/internal/secretservice"

// State is the lifecycle state of the managed collection handle.
type State int

const (
	StateUnresolved State = iota
	StateResolving
	StateLocked
	StateUnlocked
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Selector picks the collection to resolve.
type Selector struct {
	// Name is the exact collection label. Empty selects the default alias.
	Name string
}

// IsDefault reports whether the selector resolves the default alias.
func (s Selector) IsDefault() bool {
	return s.Name == ""
}

func (s Selector) String() string {
	if s.IsDefault() {
		return "alias:" + secretservice.DefaultAlias
	}
	return "label:" + s.Name
}

// SelectorFor builds a selector from the collection preferences. A custom
// name equal to the default alias still selects the alias.
func SelectorFor(useCustom bool, name string) Selector {
	if !useCustom || name == "" || name == secretservice.DefaultAlias {
		return Selector{}
	}
	return Selector{Name: name}
}

// Purpose tags an unlock request with why it was issued.
type Purpose int

const (
	// PurposeOperation is an unlock ahead of a single credential operation.
	PurposeOperation Purpose = iota
	// PurposeInitializing is the startup unlock that precedes migration.
	PurposeInitializing
)

func (p Purpose) String() string {
	if p == PurposeInitializing {
		return "initializing"
	}
	return "operation"
}

// Unlocked is the completion of an unlock request.
type Unlocked struct {
	Collection secretservice.Collection
	Purpose    Purpose
}

// Status is a snapshot of the manager for status reports.
type Status struct {
	State      string `json:"state"`
	Collection string `json:"collection,omitempty"`
	Path       string `json:"path,omitempty"`
	Selector   string `json:"selector,omitempty"`
}
