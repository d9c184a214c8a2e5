// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package oskeyring_test

import (
	"context"
	"testing"

	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/secretservice"
	"github.com/imvault/imvault/internal/secretservice/oskeyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func init() {
	// Use the mock keyring for all tests so they don't touch the real OS keyring.
	keyring.MockInit()
}

func open(t *testing.T, prefix string) (secretservice.Service, secretservice.Collection) {
	t.Helper()
	svc, err := oskeyring.NewConnector(prefix)(context.Background())
	require.NoError(t, err)
	col, err := svc.CollectionForAlias(context.Background(), secretservice.DefaultAlias)
	require.NoError(t, err)
	return svc, col
}

func item(id credential.Identity, secret string) secretservice.Item {
	return secretservice.Item{
		Label:       id.Label("XMPP"),
		Attributes:  id.Attributes(),
		Secret:      []byte(secret),
		ContentType: credential.ContentType,
	}
}

func TestKeyringService_StoreAndSearch(t *testing.T) {
	svc, col := open(t, "test-store-search")
	ctx := context.Background()
	id := credential.New("xmpp", "alice@example.com")

	_, err := svc.CreateItem(ctx, col, item(id, "s3cr3t"), true)
	require.NoError(t, err)

	items, err := svc.SearchItems(ctx, col, id.Attributes(), true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s3cr3t", string(items[0].Secret))
	assert.True(t, id.Matches(items[0].Attributes))

	n, err := svc.LoadItems(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKeyringService_ReplaceDoesNotDuplicate(t *testing.T) {
	svc, col := open(t, "test-replace")
	ctx := context.Background()
	id := credential.New("irc", "bob")

	_, err := svc.CreateItem(ctx, col, item(id, "old"), true)
	require.NoError(t, err)
	_, err = svc.CreateItem(ctx, col, item(id, "new"), true)
	require.NoError(t, err)

	items, err := svc.SearchItems(ctx, col, id.Attributes(), true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "new", string(items[0].Secret))

	_, err = svc.CreateItem(ctx, col, item(id, "dup"), false)
	assert.Error(t, err)
}

func TestKeyringService_SameUsernameDifferentProtocol(t *testing.T) {
	svc, col := open(t, "test-isolation")
	ctx := context.Background()
	a := credential.New("xmpp", "carol")
	b := credential.New("irc", "carol")

	_, err := svc.CreateItem(ctx, col, item(a, "pw-a"), true)
	require.NoError(t, err)
	_, err = svc.CreateItem(ctx, col, item(b, "pw-b"), true)
	require.NoError(t, err)

	got, err := svc.SearchItems(ctx, col, a.Attributes(), true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pw-a", string(got[0].Secret))

	byUser, err := svc.SearchItems(ctx, col, map[string]string{"username": "carol"}, false)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)
	for _, it := range byUser {
		assert.Nil(t, it.Secret)
	}
}

func TestKeyringService_Delete(t *testing.T) {
	svc, col := open(t, "test-delete")
	ctx := context.Background()
	id := credential.New("xmpp", "dave")

	created, err := svc.CreateItem(ctx, col, item(id, "pw"), true)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteItem(ctx, created))

	items, err := svc.SearchItems(ctx, col, id.Attributes(), true)
	require.NoError(t, err)
	assert.Empty(t, items)

	err = svc.DeleteItem(ctx, created)
	assert.ErrorIs(t, err, secretservice.ErrNoSuchObject)

	n, err := svc.LoadItems(ctx, col)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeyringService_SingleUnlockedCollection(t *testing.T) {
	svc, col := open(t, "test-collection")
	ctx := context.Background()

	cols, err := svc.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, oskeyring.CollectionLabel, cols[0].Label)

	locked, err := svc.IsLocked(ctx, col)
	require.NoError(t, err)
	assert.False(t, locked)

	_, err = svc.CollectionForAlias(ctx, "session")
	assert.ErrorIs(t, err, secretservice.ErrNoSuchObject)

	_, err = svc.IsLocked(ctx, secretservice.Collection{Path: "/elsewhere"})
	assert.ErrorIs(t, err, secretservice.ErrNoSuchObject)
}

func TestKeyringService_RegisteredBackend(t *testing.T) {
	conn, err := secretservice.Open(oskeyring.BackendName, secretservice.Options{KeyringService: "test-registry"})
	require.NoError(t, err)
	svc, err := conn(context.Background())
	require.NoError(t, err)
	assert.NoError(t, svc.Close())
}
