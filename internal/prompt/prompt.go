// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package prompt asks the user yes/no questions and for corrected passwords.
package prompt

import (
	"context"
	"sync"

	"github.com/imvault/imvault/internal/secure"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Prompter issues user-facing dialogs. Calls block until the user answers,
// so callers run them off the event loop.
type Prompter interface {
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, title, question string) (bool, error)

	// RequestPassword asks for a password. A cancelled dialog returns an
	// error with CodePromptCancelled.
	RequestPassword(ctx context.Context, title, message string) (*secure.Secret, error)
}

// IsCancelled reports whether err is a cancelled dialog.
func IsCancelled(err error) bool {
	return vaulterr.HasCode(err, vaulterr.CodePromptCancelled)
}

func cancelled() error {
	return vaulterr.New(vaulterr.CodePromptCancelled, "prompt cancelled by user")
}

// Static answers every dialog with fixed values.
type Static struct {
	// Answer is returned by Confirm.
	Answer bool
	// Password is returned by RequestPassword. Empty means cancel.
	Password string

	mu        sync.Mutex
	confirms  int
	passwords int
}

func (s *Static) Confirm(ctx context.Context, _, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.confirms++
	s.mu.Unlock()
	return s.Answer, nil
}

func (s *Static) RequestPassword(ctx context.Context, _, _ string) (*secure.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.passwords++
	s.mu.Unlock()
	if s.Password == "" {
		return nil, cancelled()
	}
	return secure.FromString(s.Password), nil
}

// Confirms returns how many times Confirm was called.
func (s *Static) Confirms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirms
}

// PasswordRequests returns how many times RequestPassword was called.
func (s *Static) PasswordRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passwords
}

// ForMode returns the prompter configured by prompt.mode.
func ForMode(mode string) (Prompter, error) {
	switch mode {
	case "", "interactive":
		return NewTerminal(), nil
	case "yes":
		return &Static{Answer: true}, nil
	case "no":
		return &Static{}, nil
	default:
		return nil, vaulterr.New(vaulterr.CodeConfigValidateInvalidValue, "unknown prompt mode",
			vaulterr.Field("mode", mode))
	}
}
