package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/core"
	"github.com/pulsemeet/pulse-server/internal/store"
)

// UserHandlers provides HTTP handlers for profile and discovery endpoints.
type UserHandlers struct {
	users    store.UserStore
	registry *core.Registry
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(users store.UserStore, registry *core.Registry, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		users:    users,
		registry: registry,
		log:      logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID         string   `json:"id"`
	Email      string   `json:"email,omitempty"`
	Name       string   `json:"name"`
	Bio        string   `json:"bio,omitempty"`
	AvatarURL  string   `json:"avatar_url,omitempty"`
	IsOnline   bool     `json:"is_online"`
	LastSeen   int64    `json:"last_seen"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

func userResponse(u *store.User, withEmailHidden bool) UserResponse {
	resp := UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Bio:       u.Bio,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen.UnixMilli(),
	}
	if withEmailHidden {
		resp.Email = ""
	}
	return resp
}

// UpdateProfileRequest represents the profile update request body.
type UpdateProfileRequest struct {
	Name      *string  `json:"name"`
	Bio       *string  `json:"bio"`
	AvatarURL *string  `json:"avatar_url"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Me returns the authenticated user's profile.
// GET /api/users/me
func (h *UserHandlers) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, userResponse(user, false))
}

// UpdateMe updates the authenticated user's profile.
// PATCH /api/users/me
func (h *UserHandlers) UpdateMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}
	if req.Latitude != nil {
		user.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		user.Longitude = req.Longitude
	}

	if err := h.users.UpdateProfile(c.Request.Context(), user); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to update profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, userResponse(user, false))
}

// Get returns another user's public profile, with live presence overlaid from
// the connection registry.
// GET /api/users/:id
func (h *UserHandlers) Get(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", c.Param("id")).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := userResponse(user, true)
	// The registry is authoritative for this process; the stored flag may lag.
	resp.IsOnline = h.registry.IsOnline(user.ID)
	if ls := h.registry.LastSeen(user.ID); !ls.IsZero() {
		resp.LastSeen = ls.UnixMilli()
	}
	c.JSON(http.StatusOK, resp)
}

// Nearby returns users close to the caller's stored coordinates.
// GET /api/users/nearby?radius_km=25&limit=20
func (h *UserHandlers) Nearby(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	radiusKm := parseFloatDefault(c.Query("radius_km"), 25)
	limit := parseIntDefault(c.Query("limit"), 20)

	nearby, err := h.users.NearbyUsers(c.Request.Context(), userID, radiusKm, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no coordinates on profile"})
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to query nearby users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]UserResponse, 0, len(nearby))
	for _, nu := range nearby {
		u := userResponse(&nu.User, true)
		u.IsOnline = h.registry.IsOnline(nu.ID)
		d := nu.DistanceKm
		u.DistanceKm = &d
		resp = append(resp, u)
	}
	c.JSON(http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func parseTimeMillis(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
