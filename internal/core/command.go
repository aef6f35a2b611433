package core

// CommandKind describes what the client wants to do. The set is closed; the
// transport maps wire-level message types onto it before anything reaches the
// hub.
type CommandKind int

const (
	// CommandRegister announces presence for the connection's user. Re-issued
	// by clients on every reconnect; idempotent per connection.
	CommandRegister CommandKind = iota
	// CommandJoinRoom subscribes the connection to a room. Idempotent.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the connection from a room. Idempotent.
	CommandLeaveRoom
	// CommandSendMessage publishes a chat message to a room.
	CommandSendMessage
	// CommandTyping broadcasts an ephemeral typing signal to a room.
	CommandTyping
)

// Command represents an action requested by a client connection.
type Command struct {
	Kind    CommandKind
	Room    string
	Content string
	// TempID is the client's optimistic message id, round-tripped through
	// persistence so the sender can substitute its local copy.
	TempID string
}
