package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeRegister = "register"
	InboundTypeJoin     = "join"
	InboundTypeLeave    = "leave"
	InboundTypeMsg      = "msg"
	InboundTypeTyping   = "typing"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameMessage  = "message"
	EventNameTyping   = "typing"
	EventNamePresence = "presence"
	EventNameJoined   = "joined"
)

// RoomData addresses a room-scoped request (join, leave, typing).
type RoomData struct {
	Room string `json:"room"`
}

// MsgData is a chat message from the client. TempID is the client's
// optimistic id, echoed back on the durable envelope.
type MsgData struct {
	Room   string `json:"room"`
	Text   string `json:"text"`
	TempID string `json:"temp_id,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is the durable envelope pushed to room subscribers.
type EventMessage struct {
	ID     string `json:"id"`
	Room   string `json:"room"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	TempID string `json:"temp_id,omitempty"`
	TS     int64  `json:"ts"`
}

// EventTyping notifies that a user is typing in a room. Ephemeral; the
// consumer expires it locally.
type EventTyping struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// EventPresence notifies that a user went online or offline.
type EventPresence struct {
	User     string `json:"user"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// EventJoined acknowledges a room join.
type EventJoined struct {
	Room string `json:"room"`
}

// Error describes a protocol-level error response. TempID is set on send
// failures so the client can fail the matching optimistic message.
type Error struct {
	Code   string `json:"code"`
	Msg    string `json:"msg"`
	Room   string `json:"room,omitempty"`
	TempID string `json:"temp_id,omitempty"`
}
