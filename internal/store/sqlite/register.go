// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package sqlite

import (
	"path/filepath"

	"github.com/imvault/imvault/internal/store"
)

// DatabaseFile is the name of the database inside the data directory.
const DatabaseFile = "imvault.db"

func init() {
	store.RegisterBackend("sqlite", newStore)
}

func newStore(dataPath string) (store.Store, error) {
	return Open(filepath.Join(dataPath, DatabaseFile))
}
