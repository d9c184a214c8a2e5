// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package plugin

import (
	"sync"

	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Phase is the coarse lifecycle phase of the plugin. Its integer value is
// what gets persisted.
type Phase int

const (
	PhaseUnloaded Phase = iota
	PhaseLoaded
	PhaseInitializing
	PhaseStoring
	PhaseLoading
	PhaseDeleting
	PhaseEnabled
)

func (p Phase) String() string {
	switch p {
	case PhaseUnloaded:
		return "unloaded"
	case PhaseLoaded:
		return "loaded"
	case PhaseInitializing:
		return "initializing"
	case PhaseStoring:
		return "storing"
	case PhaseLoading:
		return "loading"
	case PhaseDeleting:
		return "deleting"
	case PhaseEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// ParsePhase validates a persisted phase value.
func ParsePhase(v int) (Phase, error) {
	p := Phase(v)
	if p < PhaseUnloaded || p > PhaseEnabled {
		return PhaseUnloaded, vaulterr.Errorf(vaulterr.CodePluginPhaseInvalid, "unknown plugin phase %d", v)
	}
	return p, nil
}

// Active reports whether the plugin is loaded and serving.
func (p Phase) Active() bool {
	return p == PhaseLoaded || p == PhaseEnabled
}

// validTransitions defines allowed phase transitions as an adjacency list.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseUnloaded: {
		PhaseInitializing: true,
	},
	PhaseInitializing: {
		PhaseLoading:  true,
		PhaseUnloaded: true,
	},
	PhaseLoading: {
		PhaseLoaded:   true,
		PhaseUnloaded: true,
	},
	PhaseLoaded: {
		PhaseEnabled:  true,
		PhaseStoring:  true,
		PhaseDeleting: true,
		PhaseUnloaded: true,
	},
	PhaseEnabled: {
		PhaseLoaded:   true,
		PhaseStoring:  true,
		PhaseDeleting: true,
		PhaseUnloaded: true,
	},
	PhaseStoring: {
		PhaseLoaded:  true,
		PhaseEnabled: true,
	},
	PhaseDeleting: {
		PhaseLoaded:  true,
		PhaseEnabled: true,
	},
}

// ValidTransition returns true if moving from one phase to another is allowed.
func ValidTransition(from, to Phase) bool {
	allowed, exists := validTransitions[from][to]
	return exists && allowed
}

// machine guards the in-memory phase.
type machine struct {
	mu    sync.RWMutex
	phase Phase
}

func (m *machine) get() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// transition moves to next and returns the previous phase.
func (m *machine) transition(next Phase) (Phase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ValidTransition(m.phase, next) {
		return m.phase, vaulterr.Errorf(vaulterr.CodePluginLifecycleTransitionInvalid,
			"invalid phase transition: %s -> %s", m.phase, next)
	}
	prev := m.phase
	m.phase = next
	return prev, nil
}
