// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package secure keeps the transient plaintext copy of a password that a
// pending store or load operation needs, encrypted at rest in memory via
// memguard, and wipes it once the operation completes.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Secret is a single password held for the duration of one operation.
// The zero value is an empty, already-destroyed secret.
type Secret struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// FromString seals a copy of s. The caller's string cannot be wiped; the
// intermediate byte slice is.
func FromString(s string) *Secret {
	return FromBytes([]byte(s))
}

// FromBytes seals b and wipes it.
func FromBytes(b []byte) *Secret {
	if len(b) == 0 {
		return &Secret{}
	}
	return &Secret{enclave: memguard.NewEnclave(b)}
}

// Empty reports whether the secret holds no data or was destroyed.
func (s *Secret) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enclave == nil
}

// Size returns the plaintext length.
func (s *Secret) Size() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enclave == nil {
		return 0
	}
	return s.enclave.Size()
}

// Open decrypts the secret into a locked buffer. The caller must Destroy the
// returned buffer.
func (s *Secret) Open() (*memguard.LockedBuffer, error) {
	if s == nil {
		return memguard.NewBuffer(0), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enclave == nil {
		return memguard.NewBuffer(0), nil
	}
	return s.enclave.Open()
}

// Reveal returns the plaintext as a string. Use only at the point where the
// password is handed to the account collaborator.
func (s *Secret) Reveal() (string, error) {
	buf, err := s.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Destroy drops the enclave. Idempotent.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}

// Purge wipes every memguard allocation. Call once on shutdown.
func Purge() {
	memguard.Purge()
}
