package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/mossy-p/remote-session/internal/session"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024 // SDP with many candidates
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// client is one participant's signaling socket. The room owns the outbound queue;
// writePump is the only goroutine that writes to conn.
type client struct {
	h      *Handler
	conn   *websocket.Conn
	sub    *session.Subscription
	roomID string
	log    *zap.Logger
	errs   chan models.Envelope
}

// HandleSignaling upgrades to a WebSocket carrying envelopes for one participant
func (h *Handler) HandleSignaling(c *gin.Context) {
	participantID := c.Query("participantId")
	if participantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participantId is required"})
		return
	}

	roomID, ok := h.resolveRoomID(c)
	if !ok {
		return
	}

	// Subscribe before upgrading so unknown participants get a proper HTTP error
	sub, err := h.registry.Subscribe(c.Request.Context(), roomID, participantID)
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		h.registry.Unsubscribe(roomID, sub)
		return
	}

	cl := &client{
		h:      h,
		conn:   conn,
		sub:    sub,
		roomID: roomID,
		log:    h.log.With(zap.String("room_id", roomID), zap.String("participant_id", participantID)),
		errs:   make(chan models.Envelope, 16),
	}
	cl.log.Info("signaling connected")

	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.h.registry.Unsubscribe(c.roomID, c.sub)
		c.conn.Close()
		c.log.Info("signaling disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		// The socket decides who is speaking
		env.SenderID = c.sub.ParticipantID
		env.RoomID = c.roomID

		if err := c.h.registry.Route(context.Background(), c.roomID, env); err != nil {
			c.log.Debug("envelope rejected", zap.String("type", string(env.Type)), zap.Error(err))
			c.reject(env, err)
		}
	}
}

// reject reports a routing failure back to the sender so it can retry
func (c *client) reject(env models.Envelope, err error) {
	select {
	case c.errs <- models.Envelope{
		Type:          models.TypeError,
		RoomID:        c.roomID,
		RecipientID:   c.sub.ParticipantID,
		ParticipantID: env.RecipientID,
		Reason:        string(env.Type),
		Timestamp:     time.Now().UTC(),
		Error:         err.Error(),
	}:
	default:
		c.log.Warn("error queue full, dropping rejection")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.sub.Ready():
			if !c.writeAll(c.sub.Drain()) {
				return
			}

		case env := <-c.errs:
			if !c.writeAll([]models.Envelope{env}) {
				return
			}

		case <-c.sub.Done():
			// Deliver what was queued before the room dropped us (kick, close)
			c.writeAll(c.sub.Drain())
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) writeAll(envs []models.Envelope) bool {
	for _, env := range envs {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(env); err != nil {
			c.log.Warn("failed to write message", zap.Error(err))
			return false
		}
	}
	return true
}
