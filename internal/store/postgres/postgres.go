package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pulsemeet/pulse-server/internal/store"
	"github.com/pulsemeet/pulse-server/internal/store/postgres/migrations"
	"github.com/pulsemeet/pulse-server/internal/utils"
)

// PostgresStore implements store.Store for PostgreSQL via the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// New opens a connection pool for the DSN and runs the embedded goose
// migrations.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

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

// CreateUser creates a new user with hashed password.
func (s *PostgresStore) CreateUser(ctx context.Context, email, name, passwordHash string) (*store.User, error) {
	id := utils.NewUUID()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		id, email, name, passwordHash)

	u, err := scanUser(row)
	if err != nil {
		if strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate") {
			return nil, store.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UpdateProfile updates name, bio, avatar and coordinates.
func (s *PostgresStore) UpdateProfile(ctx context.Context, u *store.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = $1, bio = $2, avatar_url = $3, latitude = $4, longitude = $5
		WHERE id = $6
	`, u.Name, u.Bio, u.AvatarURL, u.Latitude, u.Longitude, u.ID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetPresence records the online flag and stamps last_seen to now.
func (s *PostgresStore) SetPresence(ctx context.Context, id string, online bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_online = $1, last_seen = NOW() WHERE id = $2`, online, id)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// NearbyUsers returns users within radiusKm of the caller's stored
// coordinates, nearest first, excluding the caller. Distance is the haversine
// great-circle formula evaluated in SQL.
func (s *PostgresStore) NearbyUsers(ctx context.Context, id string, radiusKm float64, limit int) ([]*store.NearbyUser, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH me AS (
			SELECT latitude, longitude FROM users
			WHERE id = $1 AND latitude IS NOT NULL AND longitude IS NOT NULL
		)
		SELECT u.id, u.email, u.name, u.password_hash, u.bio, u.avatar_url,
			u.latitude, u.longitude, u.is_online, u.last_seen, u.created_at,
			2 * 6371 * asin(sqrt(
				pow(sin(radians(u.latitude - me.latitude) / 2), 2) +
				cos(radians(me.latitude)) * cos(radians(u.latitude)) *
				pow(sin(radians(u.longitude - me.longitude) / 2), 2)
			)) AS distance_km
		FROM users u, me
		WHERE u.id != $1 AND u.latitude IS NOT NULL AND u.longitude IS NOT NULL
		  AND 2 * 6371 * asin(sqrt(
				pow(sin(radians(u.latitude - me.latitude) / 2), 2) +
				cos(radians(me.latitude)) * cos(radians(u.latitude)) *
				pow(sin(radians(u.longitude - me.longitude) / 2), 2)
			)) <= $2
		ORDER BY distance_km ASC
		LIMIT $3
	`, id, radiusKm, limit)
	if err != nil {
		return nil, fmt.Errorf("query nearby users: %w", err)
	}
	defer rows.Close()

	var nearby []*store.NearbyUser
	for rows.Next() {
		var nu store.NearbyUser
		err := rows.Scan(
			&nu.ID,
			&nu.Email,
			&nu.Name,
			&nu.PasswordHash,
			&nu.Bio,
			&nu.AvatarURL,
			&nu.Latitude,
			&nu.Longitude,
			&nu.IsOnline,
			&nu.LastSeen,
			&nu.CreatedAt,
			&nu.DistanceKm,
		)
		if err != nil {
			return nil, fmt.Errorf("scan nearby user: %w", err)
		}
		nearby = append(nearby, &nu)
	}
	return nearby, rows.Err()
}

// ==== MembershipStore implementation ====

const roomColumns = `id, user_a, user_b, created_at, updated_at`

func canonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

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
func (s *PostgresStore) GetOrCreateRoom(ctx context.Context, a, b string) (*store.Room, error) {
	userA, userB := canonicalPair(a, b)

	// ON CONFLICT DO NOTHING plus a re-select keeps this race-free.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_rooms (id, user_a, user_b, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_a, user_b) DO NOTHING
	`, utils.NewUUID(), userA, userB)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	return scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM chat_rooms WHERE user_a = $1 AND user_b = $2`, userA, userB))
}

// RoomByID retrieves a room by ID.
func (s *PostgresStore) RoomByID(ctx context.Context, id string) (*store.Room, error) {
	return scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1`, id))
}

// RoomsFor lists all rooms the user participates in.
func (s *PostgresStore) RoomsFor(ctx context.Context, userID string) ([]*store.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM chat_rooms
		WHERE user_a = $1 OR user_b = $1
		ORDER BY updated_at DESC
	`, userID)
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
func (s *PostgresStore) RoomSummaries(ctx context.Context, userID string, limit int) ([]*store.RoomSummary, error) {
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
func (s *PostgresStore) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blocked_users
		WHERE (blocker_id = $1 AND blocked_id = $2)
		   OR (blocker_id = $2 AND blocked_id = $1)
	`, a, b).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query block state: %w", err)
	}
	return n > 0, nil
}

// Block records that blocker has blocked blocked. Idempotent.
func (s *PostgresStore) Block(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_users (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// Unblock removes a block record.
func (s *PostgresStore) Unblock(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2
	`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// ListBlocked lists users blocked by the given user.
func (s *PostgresStore) ListBlocked(ctx context.Context, blockerID string) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.name, u.password_hash, u.bio, u.avatar_url,
		       u.latitude, u.longitude, u.is_online, u.last_seen, u.created_at
		FROM blocked_users bu
		JOIN users u ON u.id = bu.blocked_id
		WHERE bu.blocker_id = $1
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

// ReportUser files a safety report.
func (s *PostgresStore) ReportUser(ctx context.Context, reporterID, reportedID, reason, description string) (*store.Report, error) {
	var r store.Report
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reports (id, reporter_id, reported_id, reason, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, reporter_id, reported_id, reason, description, created_at
	`, utils.NewUUID(), reporterID, reportedID, reason, description).Scan(
		&r.ID, &r.ReporterID, &r.ReportedID, &r.Reason, &r.Description, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return &r, nil
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
// authoritative id and timestamp.
func (s *PostgresStore) Append(ctx context.Context, roomID, senderID, content, clientTempID string) (*store.Message, error) {
	room, err := s.RoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(senderID) {
		return nil, fmt.Errorf("sender %s: %w", senderID, store.ErrNotFound)
	}

	now := time.Now().UTC()
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_room_id, sender_id, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING `+messageColumns,
		utils.NewUUID(), roomID, senderID, content, now))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE chat_rooms SET updated_at = $1 WHERE id = $2`, now, roomID); err != nil {
		return nil, fmt.Errorf("touch room: %w", err)
	}

	msg.ClientTempID = clientTempID
	return msg, nil
}

// Range returns up to limit messages with created_at strictly after the given
// time, oldest first.
func (s *PostgresStore) Range(ctx context.Context, roomID string, after time.Time, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_room_id = $1 AND created_at > $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, roomID, after.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query message range: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListBefore returns up to limit messages older than the given message id,
// oldest first. before may be empty to page from the tail.
func (s *PostgresStore) ListBefore(ctx context.Context, roomID, before string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if before == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE chat_room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, roomID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE chat_room_id = $1
			  AND created_at < (SELECT created_at FROM messages WHERE id = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
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

func (s *PostgresStore) lastMessage(ctx context.Context, roomID string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, roomID)
	return scanMessage(row)
}

// MarkRead marks all messages in the room not sent by reader as read.
func (s *PostgresStore) MarkRead(ctx context.Context, roomID, readerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE chat_room_id = $1 AND sender_id != $2 AND is_read = FALSE
	`, roomID, readerID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// UnreadCount counts unread messages in the room not sent by reader.
func (s *PostgresStore) UnreadCount(ctx context.Context, roomID, readerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_room_id = $1 AND sender_id != $2 AND is_read = FALSE
	`, roomID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
