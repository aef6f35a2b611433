package core

import "errors"

// Error codes for domain errors crossing the wire.
const (
	ErrCodeNotRegistered = "not_registered"
	ErrCodeRoomNotFound  = "room_not_found"
	ErrCodeNotInRoom     = "not_in_room"
	ErrCodeJoinDenied    = "join_denied"
	ErrCodeSendFailed    = "send_failed"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnauthorized  = "unauthorized"
)

var (
	ErrNotRegistered = errors.New("connection not registered")
	ErrRoomNotFound  = errors.New("room not found")
	ErrJoinDenied    = errors.New("join denied")
	ErrBadRequest    = errors.New("bad request")
)

// CoreError wraps a code and a human-readable message. TempID is set on send
// failures so the client can mark the matching optimistic message as failed.
type CoreError struct {
	Code    string
	Message string
	Room    string
	TempID  string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
