// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package dbussecret

import (
	"github.com/godbus/dbus/v5"
)

// Secret represents a secret as transferred over D-Bus.
// Format: (oayays) - session path, parameters, value, content-type
type Secret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// D-Bus names of the freedesktop Secret Service API.
const (
	ServiceName         = "org.freedesktop.secrets"
	ServicePath         = dbus.ObjectPath("/org/freedesktop/secrets")
	ServiceInterface    = "org.freedesktop.Secret.Service"
	CollectionInterface = "org.freedesktop.Secret.Collection"
	ItemInterface       = "org.freedesktop.Secret.Item"
	SessionInterface    = "org.freedesktop.Secret.Session"
	PromptInterface     = "org.freedesktop.Secret.Prompt"
)

// Error names the service replies with.
const (
	errIsLocked       = "org.freedesktop.Secret.Error.IsLocked"
	errNoSuchObject   = "org.freedesktop.Secret.Error.NoSuchObject"
	errNoSession      = "org.freedesktop.Secret.Error.NoSession"
	errUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"
	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNoReply        = "org.freedesktop.DBus.Error.NoReply"
	errDisconnected   = "org.freedesktop.DBus.Error.Disconnected"
	errNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
)

// AlgorithmPlain transfers secrets unencrypted over the session bus.
const AlgorithmPlain = "plain"

// noPrompt is the object path returned when no prompt is necessary.
const noPrompt = dbus.ObjectPath("/")

// SchemaName is recorded in the xdg:schema attribute of every created item.
const SchemaName = "imvault password scheme"

const schemaAttribute = "xdg:schema"
