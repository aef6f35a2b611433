package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/store"
)

// ChatHandlers provides HTTP handlers for room and message endpoints. The
// message range endpoint is the reconciliation path: reconnecting clients
// close delivery gaps here, never over the realtime channel.
type ChatHandlers struct {
	membership store.MembershipStore
	messages   store.MessageStore
	pageSize   int
	log        *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(membership store.MembershipStore, messages store.MessageStore, pageSize int, logger *zerolog.Logger) *ChatHandlers {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ChatHandlers{
		membership: membership,
		messages:   messages,
		pageSize:   pageSize,
		log:        logger,
	}
}

// CreateRoomRequest represents the room create request body.
type CreateRoomRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID          string           `json:"id"`
	UserA       string           `json:"user_a"`
	UserB       string           `json:"user_b"`
	CreatedAt   int64            `json:"created_at"`
	UpdatedAt   int64            `json:"updated_at"`
	Counterpart *UserResponse    `json:"counterpart,omitempty"`
	LastMessage *MessageResponse `json:"last_message,omitempty"`
	UnreadCount int              `json:"unread_count"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	Room      string `json:"room"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	IsRead    bool   `json:"is_read"`
	CreatedAt int64  `json:"created_at"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Room:      m.RoomID,
		Sender:    m.SenderID,
		Text:      m.Content,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt.UnixMilli(),
	}
}

// CreateRoom returns the caller's room with the given counterpart, creating
// it on first contact. Blocked pairs cannot open rooms.
// POST /api/chat/rooms
func (h *ChatHandlers) CreateRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.UserID == userID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot open a room with yourself"})
		return
	}

	blocked, err := h.membership.IsBlocked(c.Request.Context(), userID, req.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to check block state")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if blocked {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		return
	}

	room, err := h.membership.GetOrCreateRoom(c.Request.Context(), userID, req.UserID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, RoomResponse{
		ID:        room.ID,
		UserA:     room.UserA,
		UserB:     room.UserB,
		CreatedAt: room.CreatedAt.UnixMilli(),
		UpdatedAt: room.UpdatedAt.UnixMilli(),
	})
}

// ListRooms lists the caller's rooms with counterpart, last message and
// unread count.
// GET /api/chat/rooms
func (h *ChatHandlers) ListRooms(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	summaries, err := h.membership.RoomSummaries(c.Request.Context(), userID, 10)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]RoomResponse, 0, len(summaries))
	for _, s := range summaries {
		r := RoomResponse{
			ID:          s.ID,
			UserA:       s.UserA,
			UserB:       s.UserB,
			CreatedAt:   s.CreatedAt.UnixMilli(),
			UpdatedAt:   s.UpdatedAt.UnixMilli(),
			UnreadCount: s.UnreadCount,
		}
		if s.Counterpart != nil {
			u := userResponse(s.Counterpart, true)
			r.Counterpart = &u
		}
		if s.LastMessage != nil {
			m := messageResponse(s.LastMessage)
			r.LastMessage = &m
		}
		resp = append(resp, r)
	}
	c.JSON(http.StatusOK, resp)
}

// ListMessages returns a bounded page of room messages and marks the room
// read for the caller. With after= it returns messages strictly newer than
// the given millisecond timestamp (the reconnect gap fetch); with before= it
// pages into history; with neither it returns the newest page.
// GET /api/chat/rooms/:id/messages?after=&before=&limit=
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID := c.Param("id")
	room, err := h.membership.RoomByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !room.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		return
	}

	limit := parseIntDefault(c.Query("limit"), h.pageSize)
	if limit > h.pageSize {
		limit = h.pageSize
	}

	if err := h.messages.MarkRead(c.Request.Context(), roomID, userID); err != nil {
		h.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to mark messages read")
	}

	var msgs []*store.Message
	if after, ok := parseTimeMillis(c.Query("after")); ok {
		msgs, err = h.messages.Range(c.Request.Context(), roomID, after, limit)
	} else {
		msgs, err = h.messages.ListBefore(c.Request.Context(), roomID, c.Query("before"), limit)
	}
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse(m))
	}
	c.JSON(http.StatusOK, resp)
}
