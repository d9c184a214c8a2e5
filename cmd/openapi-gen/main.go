// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/imvault/imvault/internal/account"
	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/plugin"
	"github.com/imvault/imvault/internal/server"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec registers every daemon route on a server and returns the
// OpenAPI document huma derives from the handler types.
func generateSpec() ([]byte, error) {
	svc, err := server.NewServices(stubStatus{}, stubAccounts{}, stubActions{})
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, vaulterr.Errorf(vaulterr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()
	srv.RegisterServices(svc)

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// Handlers are never invoked during generation.

type stubStatus struct{}

func (stubStatus) Status(context.Context) (plugin.Status, error) { return plugin.Status{}, nil }

type stubAccounts struct{}

func (stubAccounts) List(context.Context) ([]account.Snapshot, error) { return nil, nil }
func (stubAccounts) Add(context.Context, account.Spec) (account.Snapshot, error) {
	return account.Snapshot{}, nil
}
func (stubAccounts) Remove(context.Context, credential.Identity) error { return nil }
func (stubAccounts) Dispatch(context.Context, credential.Identity, server.EventInput) error {
	return nil
}

type stubActions struct{}

func (stubActions) SaveAll(context.Context) (int, error) { return 0, nil }
func (stubActions) DeleteAll(context.Context) error      { return nil }
