// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package account

import "fmt"

// EventKind names an account lifecycle notification.
type EventKind string

const (
	EventAdded           EventKind = "added"
	EventRemoved         EventKind = "removed"
	EventEnabled         EventKind = "enabled"
	EventDisabled        EventKind = "disabled"
	EventSignedOn        EventKind = "signed-on"
	EventConnectionError EventKind = "connection-error"
)

// ParseEventKind validates an event name received from outside.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventAdded, EventRemoved, EventEnabled, EventDisabled, EventSignedOn, EventConnectionError:
		return k, nil
	default:
		return "", fmt.Errorf("unknown account event %q", s)
	}
}

// Failure classifies an authentication failure.
type Failure int

const (
	FailureNone Failure = iota
	// FailureNetwork is a transient connection problem.
	FailureNetwork
	// FailureBadCredentials means the server rejected the password.
	FailureBadCredentials
)

func (f Failure) String() string {
	switch f {
	case FailureNetwork:
		return "network"
	case FailureBadCredentials:
		return "bad-credentials"
	default:
		return "none"
	}
}

// ParseFailure parses the name produced by Failure.String.
func ParseFailure(s string) (Failure, error) {
	switch s {
	case "network":
		return FailureNetwork, nil
	case "bad-credentials":
		return FailureBadCredentials, nil
	default:
		return FailureNone, fmt.Errorf("unknown failure kind %q", s)
	}
}

// Event is one lifecycle notification. Account stays valid after a
// removal but is no longer registered with the Manager.
type Event struct {
	Kind        EventKind
	Account     Account
	Failure     Failure
	Description string
}
