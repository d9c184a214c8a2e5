// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/imvault/imvault/internal/store"
	"github.com/imvault/imvault/internal/store/sqlite"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefs_SetGet(t *testing.T) {
	ctx := context.Background()
	prefs := openTestStore(t).Prefs()

	require.NoError(t, prefs.Set(ctx, "vault.auto_save", "true"))
	got, err := prefs.Get(ctx, "vault.auto_save")
	require.NoError(t, err)
	assert.Equal(t, "true", got)

	require.NoError(t, prefs.Set(ctx, "vault.auto_save", "false"))
	got, err = prefs.Get(ctx, "vault.auto_save")
	require.NoError(t, err)
	assert.Equal(t, "false", got)
}

func TestPrefs_GetMissing(t *testing.T) {
	_, err := openTestStore(t).Prefs().Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, vaulterr.IsNotFound(err))
}

func TestPrefs_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	prefs := openTestStore(t).Prefs()

	added, err := prefs.SetIfAbsent(ctx, "plugin.phase", "0")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = prefs.SetIfAbsent(ctx, "plugin.phase", "2")
	require.NoError(t, err)
	assert.False(t, added)

	got, err := prefs.Get(ctx, "plugin.phase")
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestPrefs_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	prefs := openTestStore(t).Prefs()

	require.NoError(t, prefs.Set(ctx, "b", "2"))
	require.NoError(t, prefs.Set(ctx, "a", "1"))

	list, err := prefs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Key)
	assert.False(t, list[0].UpdatedAt.IsZero())

	require.NoError(t, prefs.Delete(ctx, "a"))
	list, err = prefs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPrefs_EmptyKeyRejected(t *testing.T) {
	err := openTestStore(t).Prefs().Set(context.Background(), "", "x")
	assert.True(t, vaulterr.IsInvalidInput(err))
}

func TestAccounts_PutGetUpdate(t *testing.T) {
	ctx := context.Background()
	accounts := openTestStore(t).Accounts()

	rec := &store.AccountRecord{
		ProtocolID:       "prpl-jabber",
		ProtocolName:     "XMPP",
		Username:         "alice@example.com",
		Enabled:          true,
		RememberPassword: true,
		Password:         "s3cr3t",
	}
	require.NoError(t, accounts.Put(ctx, rec))

	got, err := accounts.Get(ctx, "prpl-jabber", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "XMPP", got.ProtocolName)
	assert.True(t, got.Enabled)
	assert.True(t, got.RememberPassword)
	assert.Equal(t, "s3cr3t", got.Password)
	created := got.CreatedAt

	rec.RememberPassword = false
	rec.Password = ""
	require.NoError(t, accounts.Put(ctx, rec))

	got, err = accounts.Get(ctx, "prpl-jabber", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, got.RememberPassword)
	assert.Empty(t, got.Password)
	assert.Equal(t, created, got.CreatedAt)
}

func TestAccounts_SameUsernameDifferentProtocol(t *testing.T) {
	ctx := context.Background()
	accounts := openTestStore(t).Accounts()

	require.NoError(t, accounts.Put(ctx, &store.AccountRecord{ProtocolID: "prpl-jabber", Username: "alice"}))
	require.NoError(t, accounts.Put(ctx, &store.AccountRecord{ProtocolID: "prpl-irc", Username: "alice"}))

	list, err := accounts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "prpl-irc", list[0].ProtocolID)
	assert.Equal(t, "prpl-jabber", list[1].ProtocolID)
}

func TestAccounts_PutRejectsUnrememberedPassword(t *testing.T) {
	err := openTestStore(t).Accounts().Put(context.Background(), &store.AccountRecord{
		ProtocolID: "prpl-irc", Username: "bob", Password: "leak",
	})
	assert.True(t, vaulterr.IsInvalidInput(err))
}

func TestAccounts_DeleteMissing(t *testing.T) {
	err := openTestStore(t).Accounts().Delete(context.Background(), "prpl-irc", "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestAccounts_Delete(t *testing.T) {
	ctx := context.Background()
	accounts := openTestStore(t).Accounts()

	require.NoError(t, accounts.Put(ctx, &store.AccountRecord{ProtocolID: "prpl-irc", Username: "bob"}))
	require.NoError(t, accounts.Delete(ctx, "prpl-irc", "bob"))

	_, err := accounts.Get(ctx, "prpl-irc", "bob")
	assert.True(t, vaulterr.IsNotFound(err))
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "imvault.db")

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Prefs().Set(ctx, "plugin.phase", "1"))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Prefs().Get(ctx, "plugin.phase")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}
