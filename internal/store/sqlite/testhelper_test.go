// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/imvault/imvault/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

// openTestStore opens a fresh database in a temp directory.
func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
