// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package store_test

import (
	"testing"

	"github.com/imvault/imvault/internal/store"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAccountRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  store.AccountRecord
		wantErr bool
	}{
		{name: "valid", record: store.AccountRecord{ProtocolID: "prpl-jabber", Username: "alice@example.com"}},
		{name: "remembered password", record: store.AccountRecord{ProtocolID: "prpl-irc", Username: "bob", RememberPassword: true, Password: "pw"}},
		{name: "missing protocol", record: store.AccountRecord{Username: "alice"}, wantErr: true},
		{name: "missing username", record: store.AccountRecord{ProtocolID: "prpl-irc"}, wantErr: true},
		{name: "password without remember", record: store.AccountRecord{ProtocolID: "prpl-irc", Username: "bob", Password: "pw"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.True(t, vaulterr.HasCode(err, vaulterr.CodeStoreInvalidInput))
				return
			}
			assert.NoError(t, err)
		})
	}
}
