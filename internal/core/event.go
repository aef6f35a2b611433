package core

import (
	"time"

	"github.com/pulsemeet/pulse-server/internal/store"
)

// EventKind is a notification the core pushes to client connections.
type EventKind int

const (
	// EventMessage delivers a durably persisted chat message.
	EventMessage EventKind = iota
	// EventTyping delivers an ephemeral typing signal. Best effort.
	EventTyping
	// EventPresence notifies that a user went online or offline.
	EventPresence
	// EventJoined acknowledges a (possibly repeated) room join.
	EventJoined
	// EventError notifies the connection about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind EventKind
	Room string
	// User is the subject of typing and presence events.
	User     string
	Online   bool
	LastSeen time.Time
	// Message is set for EventMessage; it is the durable envelope, with the
	// sender's temp id carried through for substitution.
	Message *store.Message
	Error   *CoreError
}
