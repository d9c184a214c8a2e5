// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package credential derives the lookup key under which an account's
// password is filed in the secret-storage service.
package credential

import "fmt"

// Attribute names stored with every secret record.
const (
	AttrProtocol = "protocol"
	AttrUsername = "username"
)

// ContentType is the MIME type attached to every stored password.
const ContentType = "text/plain"

// LabelPrefix starts the human-readable label of every stored record.
const LabelPrefix = "Imvault account password"

// Identity is the stable lookup key of an account. Two identities are equal
// iff both fields match exactly; no case folding or trimming is applied.
type Identity struct {
	ProtocolID string
	Username   string
}

// New returns the identity for the given protocol identifier and username.
func New(protocolID, username string) Identity {
	return Identity{ProtocolID: protocolID, Username: username}
}

// Attributes serializes the identity into the attribute-map format used by
// the transport. Only call this at the transport boundary.
func (id Identity) Attributes() map[string]string {
	return map[string]string{
		AttrProtocol: id.ProtocolID,
		AttrUsername: id.Username,
	}
}

// Label returns the record label shown by keyring browsers.
func (id Identity) Label(protocolName string) string {
	if protocolName == "" {
		protocolName = id.ProtocolID
	}
	return fmt.Sprintf("%s (%s: %s)", LabelPrefix, protocolName, id.Username)
}

// IsZero reports whether both fields are empty.
func (id Identity) IsZero() bool {
	return id.ProtocolID == "" && id.Username == ""
}

// Matches reports whether attrs carries exactly this identity's protocol and
// username. Extra attributes are ignored.
func (id Identity) Matches(attrs map[string]string) bool {
	p, ok := attrs[AttrProtocol]
	if !ok || p != id.ProtocolID {
		return false
	}
	u, ok := attrs[AttrUsername]
	return ok && u == id.Username
}

// FromAttributes rebuilds an identity from a transport attribute map.
func FromAttributes(attrs map[string]string) (Identity, bool) {
	p, okP := attrs[AttrProtocol]
	u, okU := attrs[AttrUsername]
	if !okP || !okU {
		return Identity{}, false
	}
	return Identity{ProtocolID: p, Username: u}, true
}

func (id Identity) String() string {
	return id.ProtocolID + "/" + id.Username
}
