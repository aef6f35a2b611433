package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pulsemeet/pulse-server/internal/store"
	"github.com/pulsemeet/pulse-server/internal/utils"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	bio           TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	latitude      REAL,
	longitude     REAL,
	is_online     BOOLEAN NOT NULL DEFAULT 0,
	last_seen     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_rooms (
	id         TEXT PRIMARY KEY,
	user_a     TEXT NOT NULL,
	user_b     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_a, user_b),
	FOREIGN KEY (user_a) REFERENCES users(id),
	FOREIGN KEY (user_b) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	chat_room_id TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	content      TEXT NOT NULL,
	is_read      BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	FOREIGN KEY (chat_room_id) REFERENCES chat_rooms(id),
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(chat_room_id, created_at);

CREATE TABLE IF NOT EXISTS blocked_users (
	blocker_id TEXT NOT NULL,
	blocked_id TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (blocker_id, blocked_id),
	FOREIGN KEY (blocker_id) REFERENCES users(id),
	FOREIGN KEY (blocked_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS reports (
	id          TEXT PRIMARY KEY,
	reporter_id TEXT NOT NULL,
	reported_id TEXT NOT NULL,
	reason      TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (reporter_id) REFERENCES users(id),
	FOREIGN KEY (reported_id) REFERENCES users(id)
);
`

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function after the
// schema is applied. Useful for tests to seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, name, passwordHash string) (*store.User, error) {
	id := utils.NewUUID()
	query := `
		INSERT INTO users (id, email, name, password_hash, last_seen)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, email, name, passwordHash, time.Now().UTC()); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, store.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

const userColumns = `id, email, name, password_hash, bio, avatar_url, latitude, longitude, is_online, last_seen, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var u store.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.Bio,
		&u.AvatarURL,
		&u.Latitude,
		&u.Longitude,
		&u.IsOnline,
		&u.LastSeen,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UpdateProfile updates name, bio, avatar and coordinates.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, u *store.User) error {
	query := `
		UPDATE users
		SET name = ?, bio = ?, avatar_url = ?, latitude = ?, longitude = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, u.Name, u.Bio, u.AvatarURL, u.Latitude, u.Longitude, u.ID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetPresence records the online flag and stamps last_seen to now.
func (s *SQLiteStore) SetPresence(ctx context.Context, id string, online bool) error {
	query := `UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, online, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// NearbyUsers returns users within radiusKm of the caller's stored
// coordinates, nearest first, excluding the caller. The distance is computed
// in Go since SQLite ships no trig functions.
func (s *SQLiteStore) NearbyUsers(ctx context.Context, id string, radiusKm float64, limit int) ([]*store.NearbyUser, error) {
	me, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if me.Latitude == nil || me.Longitude == nil {
		return nil, fmt.Errorf("user %s has no coordinates: %w", id, store.ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id != ? AND latitude IS NOT NULL AND longitude IS NOT NULL
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query nearby users: %w", err)
	}
	defer rows.Close()

	var nearby []*store.NearbyUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		d := haversineKm(*me.Latitude, *me.Longitude, *u.Latitude, *u.Longitude)
		if d <= radiusKm {
			nearby = append(nearby, &store.NearbyUser{User: *u, DistanceKm: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearby users: %w", err)
	}

	sort.Slice(nearby, func(i, j int) bool { return nearby[i].DistanceKm < nearby[j].DistanceKm })
	if limit > 0 && len(nearby) > limit {
		nearby = nearby[:limit]
	}
	return nearby, nil
}

// haversineKm returns the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// ==== MembershipStore implementation ====

// canonicalPair sorts the two user ids so room lookup is idempotent.
func canonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

const roomColumns = `id, user_a, user_b, created_at, updated_at`

func scanRoom(row interface{ Scan(...any) error }) (*store.Room, error) {
	var r store.Room
	err := row.Scan(&r.ID, &r.UserA, &r.UserB, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return &r, nil
}

// GetOrCreateRoom returns the room for the (a, b) pair, creating it if needed.
func (s *SQLiteStore) GetOrCreateRoom(ctx context.Context, a, b string) (*store.Room, error) {
	userA, userB := canonicalPair(a, b)

	room, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM chat_rooms WHERE user_a = ? AND user_b = ?`, userA, userB))
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	id := utils.NewUUID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_rooms (id, user_a, user_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, userA, userB, now, now)
	if err != nil {
		// Lost a race with a concurrent create for the same pair.
		if strings.Contains(err.Error(), "UNIQUE") {
			return scanRoom(s.db.QueryRowContext(ctx,
				`SELECT `+roomColumns+` FROM chat_rooms WHERE user_a = ? AND user_b = ?`, userA, userB))
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	return s.RoomByID(ctx, id)
}

// RoomByID retrieves a room by ID.
func (s *SQLiteStore) RoomByID(ctx context.Context, id string) (*store.Room, error) {
	return scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = ?`, id))
}

// RoomsFor lists all rooms the user participates in.
func (s *SQLiteStore) RoomsFor(ctx context.Context, userID string) ([]*store.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM chat_rooms
		WHERE user_a = ? OR user_b = ?
		ORDER BY updated_at DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// RoomSummaries lists the user's rooms with counterpart, last message and
// unread count, most recently active first.
func (s *SQLiteStore) RoomSummaries(ctx context.Context, userID string, limit int) ([]*store.RoomSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rooms, err := s.RoomsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}

	summaries := make([]*store.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		counterpart, err := s.GetUserByID(ctx, room.Counterpart(userID))
		if err != nil {
			return nil, fmt.Errorf("room %s counterpart: %w", room.ID, err)
		}

		last, err := s.lastMessage(ctx, room.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		unread, err := s.UnreadCount(ctx, room.ID, userID)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, &store.RoomSummary{
			Room:        *room,
			Counterpart: counterpart,
			LastMessage: last,
			UnreadCount: unread,
		})
	}
	return summaries, nil
}

// IsBlocked reports whether either user has blocked the other.
func (s *SQLiteStore) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blocked_users
		WHERE (blocker_id = ? AND blocked_id = ?)
		   OR (blocker_id = ? AND blocked_id = ?)
	`, a, b, b, a).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query block state: %w", err)
	}
	return n > 0, nil
}

// Block records that blocker has blocked blocked. Idempotent.
func (s *SQLiteStore) Block(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocked_users (blocker_id, blocked_id) VALUES (?, ?)
	`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// Unblock removes a block record.
func (s *SQLiteStore) Unblock(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM blocked_users WHERE blocker_id = ? AND blocked_id = ?
	`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// ListBlocked lists users blocked by the given user.
func (s *SQLiteStore) ListBlocked(ctx context.Context, blockerID string) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedUserColumns("u")+`
		FROM blocked_users bu
		JOIN users u ON u.id = bu.blocked_id
		WHERE bu.blocker_id = ?
		ORDER BY bu.created_at DESC
	`, blockerID)
	if err != nil {
		return nil, fmt.Errorf("query blocked users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func prefixedUserColumns(alias string) string {
	cols := strings.Split(userColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// ReportUser files a safety report.
func (s *SQLiteStore) ReportUser(ctx context.Context, reporterID, reportedID, reason, description string) (*store.Report, error) {
	id := utils.NewUUID()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, reporter_id, reported_id, reason, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, reporterID, reportedID, reason, description, now)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return &store.Report{
		ID:          id,
		ReporterID:  reporterID,
		ReportedID:  reportedID,
		Reason:      reason,
		Description: description,
		CreatedAt:   now,
	}, nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, chat_room_id, sender_id, content, is_read, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var m store.Message
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

// Append durably persists a message and returns the envelope carrying the
// authoritative id and timestamp. The room's updated_at is advanced so room
// lists sort by recent activity.
func (s *SQLiteStore) Append(ctx context.Context, roomID, senderID, content, clientTempID string) (*store.Message, error) {
	room, err := s.RoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(senderID) {
		return nil, fmt.Errorf("sender %s: %w", senderID, store.ErrNotFound)
	}

	id := utils.NewUUID()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_room_id, sender_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, id, roomID, senderID, content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE chat_rooms SET updated_at = ? WHERE id = ?`, now, roomID); err != nil {
		return nil, fmt.Errorf("touch room: %w", err)
	}

	return &store.Message{
		ID:           id,
		RoomID:       roomID,
		SenderID:     senderID,
		Content:      content,
		ClientTempID: clientTempID,
		CreatedAt:    now,
	}, nil
}

// Range returns up to limit messages with created_at strictly after the given
// time, oldest first.
func (s *SQLiteStore) Range(ctx context.Context, roomID string, after time.Time, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_room_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, roomID, after.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query message range: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListBefore returns up to limit messages older than the given message id,
// oldest first. before may be empty to page from the tail.
func (s *SQLiteStore) ListBefore(ctx context.Context, roomID, before string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if before == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE chat_room_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, roomID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE chat_room_id = ?
			  AND created_at < (SELECT created_at FROM messages WHERE id = ?)
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, roomID, before, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages before: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	// Flip to ascending for display.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func collectMessages(rows *sql.Rows) ([]*store.Message, error) {
	var msgs []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) lastMessage(ctx context.Context, roomID string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, roomID)
	return scanMessage(row)
}

// MarkRead marks all messages in the room not sent by reader as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, roomID, readerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE chat_room_id = ? AND sender_id != ? AND is_read = 0
	`, roomID, readerID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// UnreadCount counts unread messages in the room not sent by reader.
func (s *SQLiteStore) UnreadCount(ctx context.Context, roomID, readerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_room_id = ? AND sender_id != ? AND is_read = 0
	`, roomID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
