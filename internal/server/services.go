// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package server

import (
	"context"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/plugin"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
// Use NewServices constructor to ensure all required services are provided.
type Services struct {
	status   StatusService
	accounts AccountService
	actions  ActionService
}

// NewServices creates a Services instance with validation.
// Returns an error if any required service is nil.
func NewServices(status StatusService, accounts AccountService, actions ActionService) (*Services, error) {
	if status == nil {
		return nil, vaulterr.New(vaulterr.CodeServerConfigInvalid, "status service is required")
	}
	if accounts == nil {
		return nil, vaulterr.New(vaulterr.CodeServerConfigInvalid, "account service is required")
	}
	if actions == nil {
		return nil, vaulterr.New(vaulterr.CodeServerConfigInvalid, "action service is required")
	}
	return &Services{status: status, accounts: accounts, actions: actions}, nil
}

// Status returns the status service.
func (s *Services) Status() StatusService { return s.status }

// Accounts returns the account service.
func (s *Services) Accounts() AccountService { return s.accounts }

// Actions returns the bulk action service.
func (s *Services) Actions() ActionService { return s.actions }

// StatusService reports the plugin session.
type StatusService interface {
	Status(ctx context.Context) (plugin.Status, error)
}

// AccountService manages accounts and feeds their lifecycle events.
type AccountService interface {
	List(ctx context.Context) ([]account.Snapshot, error)
	Add(ctx context.Context, spec account.Spec) (account.Snapshot, error)
	Remove(ctx context.Context, id credential.Identity) error
	// Dispatch raises an enabled, disabled, signed-on or connection-error
	// event for a registered account.
	Dispatch(ctx context.Context, id credential.Identity, ev EventInput) error
}

// ActionService runs the bulk plugin actions.
type ActionService interface {
	SaveAll(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

// EventInput is a parsed account event request.
type EventInput struct {
	Kind        account.EventKind
	Failure     account.Failure
	Description string
}

// Session serves every service from one running plugin session. Account
// mutations run on the event loop so their events are ordered with the
// completions of earlier operations.
type Session struct {
	loop     *eventloop.Loop
	accounts *account.Manager
	plugin   *plugin.Plugin
}

// NewSession returns the services backed by a loaded plugin.
func NewSession(loop *eventloop.Loop, accounts *account.Manager, p *plugin.Plugin) *Session {
	return &Session{loop: loop, accounts: accounts, plugin: p}
}

// Services returns s as a validated Services value.
func (s *Session) Services() (*Services, error) {
	return NewServices(s, s, s)
}

func (s *Session) Status(ctx context.Context) (plugin.Status, error) {
	return s.plugin.Status(ctx)
}

func (s *Session) List(_ context.Context) ([]account.Snapshot, error) {
	records := s.accounts.All()
	out := make([]account.Snapshot, 0, len(records))
	for _, r := range records {
		out = append(out, r.Snapshot())
	}
	return out, nil
}

func (s *Session) Add(ctx context.Context, spec account.Spec) (account.Snapshot, error) {
	var (
		rec *account.Record
		err error
	)
	if derr := s.loop.Do(ctx, func() { rec, err = s.accounts.Add(ctx, spec) }); derr != nil {
		return account.Snapshot{}, derr
	}
	if err != nil {
		return account.Snapshot{}, err
	}
	return rec.Snapshot(), nil
}

func (s *Session) Remove(ctx context.Context, id credential.Identity) error {
	var err error
	if derr := s.loop.Do(ctx, func() { err = s.accounts.Remove(ctx, id) }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) Dispatch(ctx context.Context, id credential.Identity, ev EventInput) error {
	var err error
	derr := s.loop.Do(ctx, func() {
		switch ev.Kind {
		case account.EventEnabled:
			err = s.accounts.Enable(ctx, id)
		case account.EventDisabled:
			err = s.accounts.Disable(ctx, id)
		case account.EventSignedOn:
			err = s.accounts.SignOn(ctx, id)
		case account.EventConnectionError:
			err = s.accounts.ConnectionError(ctx, id, ev.Failure, ev.Description)
		default:
			err = vaulterr.Errorf(vaulterr.CodeServerRequestInvalid, "event %q cannot be raised directly", ev.Kind)
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

func (s *Session) SaveAll(ctx context.Context) (int, error) {
	return s.plugin.SaveAll(ctx)
}

func (s *Session) DeleteAll(ctx context.Context) error {
	return s.plugin.DeleteAll(ctx)
}
