// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/plugin"
	"github.com/imvault/imvault/internal/server"
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatched struct {
	id credential.Identity
	ev server.EventInput
}

// fakes implements every service with canned answers.
type fakes struct {
	mu         sync.Mutex
	status     plugin.Status
	statusErr  error
	accounts   []account.Snapshot
	added      []account.Spec
	addErr     error
	removed    []credential.Identity
	removeErr  error
	dispatched []dispatched
	eventErr   error
	issued     int
	saveErr    error
	deleted    int
	deleteErr  error
}

func newFakes() *fakes {
	return &fakes{
		status: plugin.Status{
			Phase:    plugin.PhaseEnabled.String(),
			Vault:    vault.Status{State: vault.StateUnlocked.String(), Collection: "Login"},
			Accounts: 1,
		},
		accounts: []account.Snapshot{{
			ProtocolID:   "xmpp",
			ProtocolName: "XMPP",
			Username:     "alice@example.com",
			Enabled:      true,
			HasPassword:  true,
		}},
		issued: 1,
	}
}

func (f *fakes) services(t *testing.T) *server.Services {
	t.Helper()
	svc, err := server.NewServices(f, f, f)
	require.NoError(t, err)
	return svc
}

func (f *fakes) Status(context.Context) (plugin.Status, error) {
	return f.status, f.statusErr
}

func (f *fakes) List(context.Context) ([]account.Snapshot, error) {
	return f.accounts, nil
}

func (f *fakes) Add(_ context.Context, spec account.Spec) (account.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return account.Snapshot{}, f.addErr
	}
	f.added = append(f.added, spec)
	return account.NewRecord(spec).Snapshot(), nil
}

func (f *fakes) Remove(_ context.Context, id credential.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakes) Dispatch(_ context.Context, id credential.Identity, ev server.EventInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventErr != nil {
		return f.eventErr
	}
	f.dispatched = append(f.dispatched, dispatched{id: id, ev: ev})
	return nil
}

func (f *fakes) SaveAll(context.Context) (int, error) {
	return f.issued, f.saveErr
}

func (f *fakes) DeleteAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return f.deleteErr
}

func newRouteServer(t *testing.T, f *fakes) *server.Server {
	t.Helper()
	srv := newTestServer(t)
	srv.RegisterServices(f.services(t))
	return srv
}

func do(t *testing.T, srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServices_RequiresEveryService(t *testing.T) {
	f := newFakes()
	tests := []struct {
		name     string
		status   server.StatusService
		accounts server.AccountService
		actions  server.ActionService
		msg      string
	}{
		{"no status", nil, f, f, "status service is required"},
		{"no accounts", f, nil, f, "account service is required"},
		{"no actions", f, f, nil, "action service is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.NewServices(tt.status, tt.accounts, tt.actions)
			require.Error(t, err)
			assert.True(t, vaulterr.HasCode(err, vaulterr.CodeServerConfigInvalid))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRoutes_Status(t *testing.T) {
	srv := newRouteServer(t, newFakes())

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body plugin.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "enabled", body.Phase)
	assert.Equal(t, "Login", body.Vault.Collection)
	assert.Equal(t, 1, body.Accounts)
}

func TestRoutes_StatusTimeout(t *testing.T) {
	f := newFakes()
	f.statusErr = vaulterr.New(vaulterr.CodeOperationTimeout, "loop busy")
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "loop busy")
}

func TestRoutes_ListAccounts(t *testing.T) {
	srv := newRouteServer(t, newFakes())

	w := do(t, srv, http.MethodGet, "/api/v1/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Accounts []account.Snapshot `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Accounts, 1)
	assert.Equal(t, "alice@example.com", body.Accounts[0].Username)
	assert.NotContains(t, w.Body.String(), "password\":\"", "passwords are never listed")
}

func TestRoutes_AddAccount(t *testing.T) {
	f := newFakes()
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodPost, "/api/v1/accounts",
		`{"protocol":"irc","username":"bob","password":"hunter2","enabled":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var snap account.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "irc", snap.ProtocolID)
	assert.True(t, snap.HasPassword)
	require.Len(t, f.added, 1)
	assert.Equal(t, "hunter2", f.added[0].Password)
}

func TestRoutes_AddAccountValidation(t *testing.T) {
	f := newFakes()
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodPost, "/api/v1/accounts", `{"protocol":"irc","username":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, f.added)
}

func TestRoutes_AddAccountConflict(t *testing.T) {
	f := newFakes()
	f.addErr = vaulterr.New(vaulterr.CodeAccountConflict, "account already exists")
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodPost, "/api/v1/accounts", `{"protocol":"irc","username":"bob"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRoutes_RemoveAccount(t *testing.T) {
	f := newFakes()
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodDelete, "/api/v1/accounts/xmpp/alice@example.com", "")
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	require.Len(t, f.removed, 1)
	assert.Equal(t, credential.New("xmpp", "alice@example.com"), f.removed[0])
}

func TestRoutes_RemoveUnknownAccount(t *testing.T) {
	f := newFakes()
	f.removeErr = vaulterr.New(vaulterr.CodeAccountNotFound, "account not found")
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodDelete, "/api/v1/accounts/xmpp/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_AccountEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
		want server.EventInput
	}{
		{"enabled", `{"event":"enabled"}`, server.EventInput{Kind: account.EventEnabled}},
		{"disabled", `{"event":"disabled"}`, server.EventInput{Kind: account.EventDisabled}},
		{"signed on", `{"event":"signed-on"}`, server.EventInput{Kind: account.EventSignedOn}},
		{
			"network error",
			`{"event":"connection-error","failure":"network","description":"timeout"}`,
			server.EventInput{Kind: account.EventConnectionError, Failure: account.FailureNetwork, Description: "timeout"},
		},
		{
			"bad credentials",
			`{"event":"connection-error","failure":"bad-credentials"}`,
			server.EventInput{Kind: account.EventConnectionError, Failure: account.FailureBadCredentials},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakes()
			srv := newRouteServer(t, f)

			w := do(t, srv, http.MethodPost, "/api/v1/accounts/xmpp/alice@example.com/events", tt.body)
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "accepted")
			require.Len(t, f.dispatched, 1)
			assert.Equal(t, credential.New("xmpp", "alice@example.com"), f.dispatched[0].id)
			assert.Equal(t, tt.want, f.dispatched[0].ev)
		})
	}
}

func TestRoutes_AccountEventRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown event", `{"event":"exploded"}`, http.StatusUnprocessableEntity},
		{"added is not raised directly", `{"event":"added"}`, http.StatusUnprocessableEntity},
		{"connection error without failure", `{"event":"connection-error"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakes()
			srv := newRouteServer(t, f)

			w := do(t, srv, http.MethodPost, "/api/v1/accounts/xmpp/alice@example.com/events", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Empty(t, f.dispatched)
		})
	}
}

func TestRoutes_AccountEventUnknownAccount(t *testing.T) {
	f := newFakes()
	f.eventErr = vaulterr.New(vaulterr.CodeAccountNotFound, "account not found")
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodPost, "/api/v1/accounts/xmpp/nobody/events", `{"event":"signed-on"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_SaveAll(t *testing.T) {
	f := newFakes()
	f.issued = 3
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodPost, "/api/v1/actions/save-all", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"issued":3}`, stripSchema(t, w.Body.Bytes()))
}

func TestRoutes_SaveAllNotLoaded(t *testing.T) {
	f := newFakes()
	f.saveErr = vaulterr.New(vaulterr.CodePluginNotLoaded, "plugin is unloaded")
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodPost, "/api/v1/actions/save-all", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRoutes_DeleteAll(t *testing.T) {
	f := newFakes()
	srv := newRouteServer(t, f)

	w := do(t, srv, http.MethodPost, "/api/v1/actions/delete-all", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "ok")
	assert.Equal(t, 1, f.deleted)
}

// stripSchema drops the $schema link huma adds to response bodies.
func stripSchema(t *testing.T, raw []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}
