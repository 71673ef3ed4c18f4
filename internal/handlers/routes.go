package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/remote-session/internal/middleware"
)

// Register mounts every route on router
func (h *Handler) Register(router *gin.Engine, jwtSecret string) {
	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(jwtSecret))

		// Create room (requires JWT)
		apiGroup.POST("/rooms", middleware.JWTAuth(jwtSecret), h.CreateRoom)

		// Get room info by ID or join code (public)
		apiGroup.GET("/rooms/:roomId", h.GetRoom)
		apiGroup.GET("/rooms/:roomId/state", h.GetRoomState)

		// Close room (requires JWT, original host only)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(jwtSecret), h.DeleteRoom)

		// Guests may join without a token
		apiGroup.POST("/rooms/:roomId/participants", middleware.OptionalJWTAuth(jwtSecret), h.JoinRoom)

		participant := apiGroup.Group("/rooms/:roomId/participants/:participantId")
		participant.DELETE("", h.LeaveRoom)
		participant.POST("/heartbeat", h.Heartbeat)
		participant.POST("/publisher", h.AttachPublisher)
		participant.DELETE("/publisher", h.DetachPublisher)
		participant.GET("/input", h.AuthorizeInput)

		apiGroup.GET("/rooms/:roomId/control/requests", h.ControlRequests)
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		// WebSocket signaling - accepts room code or ID
		wsGroup.GET("/signal/:roomId", h.HandleSignaling)
	}
}
