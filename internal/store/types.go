// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package store

import (
	"time"

	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Pref is one persisted preference.
type Pref struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// AccountRecord is the persisted form of an account. Password is only kept
// while RememberPassword is set.
type AccountRecord struct {
	ProtocolID       string
	ProtocolName     string
	Username         string
	Enabled          bool
	RememberPassword bool
	Password         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks that the record has all required fields set.
func (a AccountRecord) Validate() error {
	if a.ProtocolID == "" {
		return vaulterr.New(vaulterr.CodeStoreInvalidInput, "account: ProtocolID is required")
	}
	if a.Username == "" {
		return vaulterr.New(vaulterr.CodeStoreInvalidInput, "account: Username is required")
	}
	if !a.RememberPassword && a.Password != "" {
		return vaulterr.Errorf(vaulterr.CodeStoreInvalidInput,
			"account %s/%s: password must not be persisted without remember flag", a.ProtocolID, a.Username)
	}
	return nil
}
