package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/remote-session/internal/middleware"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/mossy-p/remote-session/internal/session"
	"go.uber.org/zap"
)

// Handler serves the room API on top of a session registry
type Handler struct {
	registry *session.Registry
	log      *zap.Logger
}

func New(registry *session.Registry, log *zap.Logger) *Handler {
	return &Handler{registry: registry, log: log}
}

// resolveRoomID accepts a room ID or join code in the :roomId path param
func (h *Handler) resolveRoomID(c *gin.Context) (string, bool) {
	room, err := h.registry.ResolveRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	return room.ID, true
}

// CreateRoom creates a new room (requires authentication)
func (h *Handler) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), userID, models.RoomSettings{
		MaxParticipants:   req.MaxParticipants,
		AllowGuestControl: req.AllowGuestControl,
		Quality:           req.Quality,
		HostPolicy:        req.HostPolicy,
		BackupHostUserID:  req.BackupHostUserID,
		GracePeriod:       time.Duration(req.GracePeriodSeconds) * time.Second,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID:   room.ID,
		JoinCode: room.JoinCode,
	})
}

// GetRoom gets room information by code or ID (public)
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.registry.ResolveRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetRoomState returns the authoritative snapshot of a live room
func (h *Handler) GetRoomState(c *gin.Context) {
	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	snap, err := h.registry.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DeleteRoom closes a room (requires authentication and the original host)
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	if err := h.registry.CloseRoom(c.Request.Context(), roomID, userID); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Room closed"})
}

// JoinRoom adds the caller to the room. Signed-in users rejoin as the same participant.
func (h *Handler) JoinRoom(c *gin.Context) {
	var req models.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	participant, err := h.registry.Join(c.Request.Context(), roomID, c.GetString(middleware.UserIDKey), req.DisplayName)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, participant)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	if err := h.registry.Leave(c.Request.Context(), roomID, c.Param("participantId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Heartbeat is the HTTP fallback for clients that cannot keep a socket open
func (h *Handler) Heartbeat(c *gin.Context) {
	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	if err := h.registry.Heartbeat(c.Request.Context(), roomID, c.Param("participantId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AttachPublisher starts or resumes the participant's screen share
func (h *Handler) AttachPublisher(c *gin.Context) {
	var req models.AttachPublisherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	media, err := h.registry.AttachPublisher(c.Request.Context(), roomID, c.Param("participantId"), req.Mode, req.SwitchMode)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, media)
}

// DetachPublisher takes the share offline; with ?end=true the media session is ended instead
func (h *Handler) DetachPublisher(c *gin.Context) {
	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	actorID := c.Param("participantId")

	var err error
	if c.Query("end") == "true" {
		err = h.registry.EndSession(ctx, roomID, actorID)
	} else {
		err = h.registry.DetachPublisher(ctx, roomID, actorID)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ControlRequests lists pending control requests, oldest first
func (h *Handler) ControlRequests(c *gin.Context) {
	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	requests, err := h.registry.PendingControlRequests(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// AuthorizeInput lets the input-injection executor check whether a participant may
// drive the host's machine right now
func (h *Handler) AuthorizeInput(c *gin.Context) {
	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}
	if err := h.registry.AuthorizeInput(c.Request.Context(), roomID, c.Param("participantId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
