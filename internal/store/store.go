package store

import (
	"context"
	"errors"
	"time"
)

// Common store errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// User represents a user profile. IsOnline and LastSeen are the durable side
// of presence; the live side is owned by the realtime registry.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Bio          string
	AvatarURL    string
	Latitude     *float64
	Longitude    *float64
	IsOnline     bool
	LastSeen     time.Time
	CreatedAt    time.Time
}

// NearbyUser is a user annotated with the distance from the caller.
type NearbyUser struct {
	User
	DistanceKm float64
}

// Room is a durable two-party conversation. UserA and UserB are stored in
// canonical (sorted) order so lookup is idempotent regardless of which party
// initiates.
type Room struct {
	ID        string
	UserA     string
	UserB     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Counterpart returns the other participant for the given user, or "" if the
// user is not a participant.
func (r *Room) Counterpart(userID string) string {
	switch userID {
	case r.UserA:
		return r.UserB
	case r.UserB:
		return r.UserA
	default:
		return ""
	}
}

// HasParticipant reports whether the user is one of the room's two parties.
func (r *Room) HasParticipant(userID string) bool {
	return userID == r.UserA || userID == r.UserB
}

// Message is a persisted chat message. ClientTempID is the sender's optimistic
// id echoed through Append so the durable envelope can be matched back to the
// local copy; it is never stored.
type Message struct {
	ID           string
	RoomID       string
	SenderID     string
	Content      string
	ClientTempID string
	IsRead       bool
	CreatedAt    time.Time
}

// RoomSummary is a room joined with the data the chat list needs.
type RoomSummary struct {
	Room
	Counterpart *User
	LastMessage *Message
	UnreadCount int
}

// Report is a user safety report.
type Report struct {
	ID          string
	ReporterID  string
	ReportedID  string
	Reason      string
	Description string
	CreatedAt   time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, email, name, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateProfile updates name, bio, avatar and coordinates.
	UpdateProfile(ctx context.Context, u *User) error

	// SetPresence records the online flag and stamps last_seen to now.
	SetPresence(ctx context.Context, id string, online bool) error

	// NearbyUsers returns users within radiusKm of the caller's stored
	// coordinates, nearest first, excluding the caller.
	NearbyUsers(ctx context.Context, id string, radiusKm float64, limit int) ([]*NearbyUser, error)
}

// MembershipStore owns rooms, participants and block state. The realtime core
// reads block state at join time and never caches it across joins.
type MembershipStore interface {
	// GetOrCreateRoom returns the room for the (a, b) pair, creating it if
	// needed. The pair is canonicalized, so argument order does not matter.
	GetOrCreateRoom(ctx context.Context, a, b string) (*Room, error)

	// RoomByID retrieves a room by ID.
	RoomByID(ctx context.Context, id string) (*Room, error)

	// RoomsFor lists all rooms the user participates in.
	RoomsFor(ctx context.Context, userID string) ([]*Room, error)

	// RoomSummaries lists the user's rooms with counterpart, last message and
	// unread count, most recently active first.
	RoomSummaries(ctx context.Context, userID string, limit int) ([]*RoomSummary, error)

	// IsBlocked reports whether either user has blocked the other.
	IsBlocked(ctx context.Context, a, b string) (bool, error)

	// Block records that blocker has blocked blocked. Idempotent.
	Block(ctx context.Context, blockerID, blockedID string) error

	// Unblock removes a block record.
	Unblock(ctx context.Context, blockerID, blockedID string) error

	// ListBlocked lists users blocked by the given user.
	ListBlocked(ctx context.Context, blockerID string) ([]*User, error)

	// ReportUser files a safety report.
	ReportUser(ctx context.Context, reporterID, reportedID, reason, description string) (*Report, error)
}

// MessageStore is the single source of truth for persisted messages. Append is
// the durability point for fan-out: a message is never delivered to peers
// unless Append succeeded. The store is append-only per room.
type MessageStore interface {
	// Append durably persists a message and returns the envelope carrying the
	// authoritative id and timestamp.
	Append(ctx context.Context, roomID, senderID, content, clientTempID string) (*Message, error)

	// Range returns up to limit messages in the room with created_at strictly
	// after the given time, oldest first. This is the reconciliation query.
	Range(ctx context.Context, roomID string, after time.Time, limit int) ([]*Message, error)

	// ListBefore returns up to limit messages older than the given message id,
	// oldest first. Used for history paging; before may be empty for the tail.
	ListBefore(ctx context.Context, roomID, before string, limit int) ([]*Message, error)

	// MarkRead marks all messages in the room not sent by reader as read.
	MarkRead(ctx context.Context, roomID, readerID string) error

	// UnreadCount counts unread messages in the room not sent by reader.
	UnreadCount(ctx context.Context, roomID, readerID string) (int, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MembershipStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
