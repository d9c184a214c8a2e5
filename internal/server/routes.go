// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/plugin"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "plugin-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Plugin phase, collection state and pending operations",
		Tags:        []string{"system"},
	}, s.handleStatus)

	// Account endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/api/v1/accounts",
		Summary:     "List accounts",
		Tags:        []string{"accounts"},
	}, s.handleListAccounts)

	huma.Register(s.api, huma.Operation{
		OperationID:   "add-account",
		Method:        http.MethodPost,
		Path:          "/api/v1/accounts",
		Summary:       "Add an account",
		Tags:          []string{"accounts"},
		DefaultStatus: http.StatusCreated,
	}, s.handleAddAccount)

	huma.Register(s.api, huma.Operation{
		OperationID:   "remove-account",
		Method:        http.MethodDelete,
		Path:          "/api/v1/accounts/{protocol}/{username}",
		Summary:       "Remove an account",
		Tags:          []string{"accounts"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleRemoveAccount)

	huma.Register(s.api, huma.Operation{
		OperationID:   "account-event",
		Method:        http.MethodPost,
		Path:          "/api/v1/accounts/{protocol}/{username}/events",
		Summary:       "Raise an account lifecycle event",
		Tags:          []string{"accounts"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleAccountEvent)

	// Plugin actions
	huma.Register(s.api, huma.Operation{
		OperationID: "save-all",
		Method:      http.MethodPost,
		Path:        "/api/v1/actions/save-all",
		Summary:     "Save all passwords to the vault",
		Tags:        []string{"actions"},
	}, s.handleSaveAll)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-all",
		Method:      http.MethodPost,
		Path:        "/api/v1/actions/delete-all",
		Summary:     "Delete all passwords from the vault",
		Tags:        []string{"actions"},
	}, s.handleDeleteAll)
}

// --- Request/Response types for huma ---

type statusOutput struct {
	Body plugin.Status
}

type listAccountsOutput struct {
	Body struct {
		Accounts []account.Snapshot `json:"accounts"`
	}
}

type addAccountInput struct {
	Body struct {
		Protocol         string `json:"protocol" minLength:"1" doc:"Protocol identifier, e.g. prpl-jabber"`
		ProtocolName     string `json:"protocol_name,omitempty" doc:"Display name of the protocol"`
		Username         string `json:"username" minLength:"1" doc:"Account username"`
		Password         string `json:"password,omitempty" doc:"Account password"`
		RememberPassword bool   `json:"remember_password,omitempty" doc:"Whether the host keeps the password itself"`
		Enabled          bool   `json:"enabled,omitempty" doc:"Whether the account is enabled"`
	}
}
type addAccountOutput struct {
	Body account.Snapshot
}

type accountPathInput struct {
	Protocol string `path:"protocol" doc:"Protocol identifier"`
	Username string `path:"username" doc:"Account username"`
}

type accountEventInput struct {
	Protocol string `path:"protocol" doc:"Protocol identifier"`
	Username string `path:"username" doc:"Account username"`
	Body     struct {
		Event       string `json:"event" enum:"enabled,disabled,signed-on,connection-error" doc:"Event to raise"`
		Failure     string `json:"failure,omitempty" enum:"network,bad-credentials" doc:"Failure kind of a connection error"`
		Description string `json:"description,omitempty" doc:"Failure description reported by the server"`
	}
}
type accountEventOutput struct {
	Body struct {
		Status string `json:"status" example:"accepted"`
	}
}

type saveAllOutput struct {
	Body struct {
		Issued int `json:"issued" doc:"Number of store operations issued"`
	}
}

type deleteAllOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

// --- Handlers ---

func (s *Server) handleStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	st, err := s.services.Status().Status(ctx)
	if err != nil {
		return nil, apiError("reading status", err)
	}
	return &statusOutput{Body: st}, nil
}

func (s *Server) handleListAccounts(ctx context.Context, _ *struct{}) (*listAccountsOutput, error) {
	accounts, err := s.services.Accounts().List(ctx)
	if err != nil {
		return nil, apiError("listing accounts", err)
	}
	out := &listAccountsOutput{}
	out.Body.Accounts = accounts
	return out, nil
}

func (s *Server) handleAddAccount(ctx context.Context, input *addAccountInput) (*addAccountOutput, error) {
	snap, err := s.services.Accounts().Add(ctx, account.Spec{
		ProtocolID:       input.Body.Protocol,
		ProtocolName:     input.Body.ProtocolName,
		Username:         input.Body.Username,
		Password:         input.Body.Password,
		RememberPassword: input.Body.RememberPassword,
		Enabled:          input.Body.Enabled,
	})
	if err != nil {
		return nil, apiError("adding account", err)
	}
	return &addAccountOutput{Body: snap}, nil
}

func (s *Server) handleRemoveAccount(ctx context.Context, input *accountPathInput) (*struct{}, error) {
	id := credential.New(input.Protocol, input.Username)
	if err := s.services.Accounts().Remove(ctx, id); err != nil {
		return nil, apiError(fmt.Sprintf("removing account %s", id), err)
	}
	return &struct{}{}, nil
}

func (s *Server) handleAccountEvent(ctx context.Context, input *accountEventInput) (*accountEventOutput, error) {
	ev, err := parseEvent(input)
	if err != nil {
		return nil, apiError("parsing event", err)
	}
	id := credential.New(input.Protocol, input.Username)
	if err := s.services.Accounts().Dispatch(ctx, id, ev); err != nil {
		return nil, apiError(fmt.Sprintf("raising %s for %s", ev.Kind, id), err)
	}
	out := &accountEventOutput{}
	out.Body.Status = "accepted"
	return out, nil
}

func parseEvent(input *accountEventInput) (EventInput, error) {
	kind, err := account.ParseEventKind(input.Body.Event)
	if err != nil {
		return EventInput{}, vaulterr.Wrap(err, vaulterr.CodeServerRequestInvalid, "unknown event")
	}
	ev := EventInput{Kind: kind, Description: input.Body.Description}
	if kind != account.EventConnectionError {
		return ev, nil
	}
	ev.Failure, err = account.ParseFailure(input.Body.Failure)
	if err != nil {
		return EventInput{}, vaulterr.Wrap(err, vaulterr.CodeServerRequestInvalid, "connection-error needs a failure kind")
	}
	return ev, nil
}

func (s *Server) handleSaveAll(ctx context.Context, _ *struct{}) (*saveAllOutput, error) {
	issued, err := s.services.Actions().SaveAll(ctx)
	if err != nil {
		return nil, apiError("saving all passwords", err)
	}
	out := &saveAllOutput{}
	out.Body.Issued = issued
	return out, nil
}

func (s *Server) handleDeleteAll(ctx context.Context, _ *struct{}) (*deleteAllOutput, error) {
	if err := s.services.Actions().DeleteAll(ctx); err != nil {
		return nil, apiError("deleting all passwords", err)
	}
	out := &deleteAllOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// apiError maps an error code onto the matching HTTP status.
func apiError(msg string, err error) error {
	status := vaulterr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "code", vaulterr.CodeOf(err), "error", err)
	}
	return huma.NewError(status, fmt.Sprintf("%s: %s", msg, err.Error()))
}
