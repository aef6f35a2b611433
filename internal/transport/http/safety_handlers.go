package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/store"
)

// SafetyHandlers provides HTTP handlers for block and report endpoints.
type SafetyHandlers struct {
	membership store.MembershipStore
	log        *zerolog.Logger
}

// NewSafetyHandlers creates a new safety handlers instance.
func NewSafetyHandlers(membership store.MembershipStore, logger *zerolog.Logger) *SafetyHandlers {
	return &SafetyHandlers{
		membership: membership,
		log:        logger,
	}
}

// BlockRequest represents the block request body.
type BlockRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ReportRequest represents the report request body.
type ReportRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Reason      string `json:"reason" binding:"required,min=1,max=128"`
	Description string `json:"description" binding:"max=2000"`
}

// Block blocks another user.
// POST /api/safety/block
func (h *SafetyHandlers) Block(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.UserID == userID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot block yourself"})
		return
	}

	if err := h.membership.Block(c.Request.Context(), userID, req.UserID); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to block user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Unblock removes a block.
// DELETE /api/safety/block/:id
func (h *SafetyHandlers) Unblock(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if err := h.membership.Unblock(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to unblock user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListBlocked lists the caller's blocked users.
// GET /api/safety/blocked
func (h *SafetyHandlers) ListBlocked(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	users, err := h.membership.ListBlocked(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to list blocked users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse(u, true))
	}
	c.JSON(http.StatusOK, resp)
}

// Report files a safety report against another user.
// POST /api/safety/report
func (h *SafetyHandlers) Report(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	report, err := h.membership.ReportUser(c.Request.Context(), userID, req.UserID, req.Reason, req.Description)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to report user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": report.ID})
}
