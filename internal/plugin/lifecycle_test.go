// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package plugin_test

import (
	"testing"

	"github.com/imvault/imvault/internal/plugin"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    plugin.Phase
		to      plugin.Phase
		allowed bool
	}{
		{"unloaded to initializing", plugin.PhaseUnloaded, plugin.PhaseInitializing, true},
		{"initializing to loading", plugin.PhaseInitializing, plugin.PhaseLoading, true},
		{"loading to loaded", plugin.PhaseLoading, plugin.PhaseLoaded, true},
		{"loaded to enabled", plugin.PhaseLoaded, plugin.PhaseEnabled, true},
		{"loaded to storing", plugin.PhaseLoaded, plugin.PhaseStoring, true},
		{"enabled to deleting", plugin.PhaseEnabled, plugin.PhaseDeleting, true},
		{"storing back to enabled", plugin.PhaseStoring, plugin.PhaseEnabled, true},
		{"loaded to unloaded", plugin.PhaseLoaded, plugin.PhaseUnloaded, true},
		{"failed init to unloaded", plugin.PhaseInitializing, plugin.PhaseUnloaded, true},
		// Invalid transitions
		{"unloaded to loaded", plugin.PhaseUnloaded, plugin.PhaseLoaded, false},
		{"unloaded to storing", plugin.PhaseUnloaded, plugin.PhaseStoring, false},
		{"storing to deleting", plugin.PhaseStoring, plugin.PhaseDeleting, false},
		{"storing to unloaded", plugin.PhaseStoring, plugin.PhaseUnloaded, false},
		{"loaded to initializing", plugin.PhaseLoaded, plugin.PhaseInitializing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, plugin.ValidTransition(tt.from, tt.to))
		})
	}
}

func TestParsePhase(t *testing.T) {
	for v := 0; v <= 6; v++ {
		p, err := plugin.ParsePhase(v)
		require.NoError(t, err)
		assert.Equal(t, v, int(p))
		assert.NotEqual(t, "unknown", p.String())
	}

	for _, v := range []int{-1, 7, 99} {
		p, err := plugin.ParsePhase(v)
		require.Error(t, err)
		assert.True(t, vaulterr.HasCode(err, vaulterr.CodePluginPhaseInvalid))
		assert.Equal(t, plugin.PhaseUnloaded, p)
	}
}

func TestPhase_Active(t *testing.T) {
	assert.True(t, plugin.PhaseLoaded.Active())
	assert.True(t, plugin.PhaseEnabled.Active())
	assert.False(t, plugin.PhaseUnloaded.Active())
	assert.False(t, plugin.PhaseStoring.Active())
	assert.Equal(t, "unknown", plugin.Phase(42).String())
}
