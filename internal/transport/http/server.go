package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/auth"
	"github.com/pulsemeet/pulse-server/internal/config"
	"github.com/pulsemeet/pulse-server/internal/core"
	"github.com/pulsemeet/pulse-server/internal/store"
)

// NewServer builds the HTTP server: REST API plus the websocket endpoint.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	authHandlers := NewAuthHandlers(authService, logger)
	userHandlers := NewUserHandlers(st, hub.Registry(), logger)
	chatHandlers := NewChatHandlers(st, st, cfg.HistoryPageSize, logger)
	safetyHandlers := NewSafetyHandlers(st, logger)

	api := router.Group("/api")
	{
		api.POST("/auth/register", authHandlers.Register)
		api.POST("/auth/login", authHandlers.Login)

		authed := api.Group("")
		authed.Use(AuthMiddleware(authService, logger))
		{
			authed.GET("/users/me", userHandlers.Me)
			authed.PATCH("/users/me", userHandlers.UpdateMe)
			authed.GET("/users/nearby", userHandlers.Nearby)
			authed.GET("/users/:id", userHandlers.Get)

			authed.GET("/chat/rooms", chatHandlers.ListRooms)
			authed.POST("/chat/rooms", chatHandlers.CreateRoom)
			authed.GET("/chat/rooms/:id/messages", chatHandlers.ListMessages)

			authed.POST("/safety/block", safetyHandlers.Block)
			authed.DELETE("/safety/block/:id", safetyHandlers.Unblock)
			authed.GET("/safety/blocked", safetyHandlers.ListBlocked)
			authed.POST("/safety/report", safetyHandlers.Report)
		}
	}

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, cfg.WSRateLimit, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
