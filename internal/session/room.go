package session

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/remote-session/internal/models"
	"go.uber.org/zap"
)

const persistTimeout = 2 * time.Second

// room owns one Room and everything attached to it. All state is guarded by mu;
// every mutating path holds it for its whole duration, which is what keeps the
// single-grant and single-live-media invariants intact.
type room struct {
	deps *deps
	log  *zap.Logger

	mu           sync.Mutex
	model        models.Room
	participants map[string]*models.Participant
	order        []string
	kicked       map[string]bool
	version      uint64
	dirty        bool
	closed       bool
	cancel       context.CancelFunc

	presence  presenceTracker
	relay     signalingRelay
	control   controlArbiter
	media     mediaManager
	reconnect reconnectCoordinator
}

func newRoom(d *deps, model models.Room) *room {
	r := &room{
		deps:         d,
		log:          d.log.With(zap.String("room_id", model.ID), zap.String("join_code", model.JoinCode)),
		model:        model,
		participants: make(map[string]*models.Participant),
		kicked:       make(map[string]bool),
	}
	r.presence = presenceTracker{r: r}
	r.relay = newSignalingRelay(r)
	r.control = controlArbiter{r: r}
	r.media = mediaManager{r: r}
	r.reconnect = reconnectCoordinator{r: r, state: models.HostStable}
	return r
}

// start launches the room's tick loop; it stops when the room closes
func (r *room) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
}

func (r *room) run(ctx context.Context) {
	ticker := r.deps.clock.Ticker(r.deps.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick runs the presence sweep and expires undeliverable signaling envelopes
func (r *room) tick() {
	r.lock()
	defer r.unlock()

	if r.closed {
		return
	}
	now := r.deps.clock.Now()
	r.presence.sweep(now)
	r.relay.expire(now)
}

func (r *room) lock() {
	r.mu.Lock()
}

// unlock publishes a room-state snapshot if anything changed while locked
func (r *room) unlock() {
	if r.dirty && !r.closed {
		r.dirty = false
		r.version++
		snap := r.snapshot()
		r.relay.broadcast(models.Envelope{
			Type:  models.TypeRoomState,
			State: &snap,
		}, "")
	}
	r.mu.Unlock()
}

func (r *room) markDirty() {
	r.dirty = true
}

func (r *room) now() time.Time {
	return r.deps.clock.Now().UTC()
}

func (r *room) snapshot() models.RoomSnapshot {
	snap := models.RoomSnapshot{
		Room:         r.model,
		Participants: make([]models.Participant, 0, len(r.order)),
		HostState:    r.reconnect.state,
		Version:      r.version,
	}
	for _, id := range r.order {
		snap.Participants = append(snap.Participants, *r.participants[id])
	}
	if r.media.current != nil {
		m := *r.media.current
		snap.MediaSession = &m
	}
	return snap
}

// participant returns a present participant or a NotFound error
func (r *room) participant(op, id string) (*models.Participant, error) {
	p, ok := r.participants[id]
	if !ok || !p.Present() {
		return nil, notFound(op, "participant %s is not in room %s", id, r.model.ID)
	}
	return p, nil
}

func (r *room) findByUser(userID string) *models.Participant {
	if userID == "" {
		return nil
	}
	for i := len(r.order) - 1; i >= 0; i-- {
		p := r.participants[r.order[i]]
		if p.UserID == userID && !r.kicked[p.ID] {
			return p
		}
	}
	return nil
}

func (r *room) presentCount() int {
	n := 0
	for _, p := range r.participants {
		if p.Present() {
			n++
		}
	}
	return n
}

func (r *room) connectedCount() int {
	n := 0
	for _, p := range r.participants {
		if p.Present() && p.ConnectionStatus == models.StatusConnected {
			n++
		}
	}
	return n
}

func (r *room) isHost(participantID string) bool {
	return participantID != "" && participantID == r.model.CurrentHostID
}

func (r *room) setStatus(status models.RoomStatus) {
	if r.model.Status == status || r.model.Status == models.RoomStatusClosed {
		return
	}
	r.log.Debug("room status changed",
		zap.String("from", string(r.model.Status)),
		zap.String("to", string(status)))
	r.model.Status = status
	r.saveRoom()
}

// refreshTTL slides the expiry forward on activity
func (r *room) refreshTTL() {
	r.model.TTLExpiresAt = r.now().Add(r.deps.cfg.RoomTTL)
}

func (r *room) join(userID, displayName string) (*models.Participant, error) {
	const op = "join"
	now := r.now()

	if p := r.findByUser(userID); p != nil {
		rejoining := !p.Present()
		if rejoining && r.presentCount() >= r.model.Settings.MaxParticipants {
			return nil, conflict(op, "room is full")
		}
		p.LeftAt = nil
		if displayName != "" {
			p.DisplayName = displayName
		}
		r.presence.markSeen(p, now)
		r.refreshTTL()
		r.saveParticipant(p)
		r.saveRoom()
		if rejoining {
			r.relay.broadcast(models.Envelope{Type: models.TypeParticipantJoined, ParticipantID: p.ID}, p.ID)
		}
		r.markDirty()
		r.log.Info("participant rejoined", zap.String("participant_id", p.ID))
		return p, nil
	}

	if r.presentCount() >= r.model.Settings.MaxParticipants {
		return nil, conflict(op, "room is full")
	}

	p := &models.Participant{
		ID:               r.deps.newID(),
		RoomID:           r.model.ID,
		UserID:           userID,
		DisplayName:      displayName,
		Role:             models.RoleViewer,
		ControlState:     models.ControlViewOnly,
		ConnectionStatus: models.StatusConnected,
		LastSeenAt:       now,
		JoinedAt:         now,
	}

	hostUser := userID != "" && userID == r.model.HostUserID
	if hostUser && r.reconnect.state != models.HostReassigned {
		p.Role = models.RoleHost
	}

	r.participants[p.ID] = p
	r.order = append(r.order, p.ID)
	r.persist("put participant", func(ctx context.Context) error {
		return r.deps.store.PutParticipant(ctx, *p)
	})

	if p.Role == models.RoleHost {
		switch r.reconnect.state {
		case models.HostStable:
			r.model.CurrentHostID = p.ID
		case models.HostAbsent, models.HostViewerOnly:
			r.reconnect.hostReturned(p)
		}
	}

	r.refreshTTL()
	r.saveRoom()
	r.relay.broadcast(models.Envelope{Type: models.TypeParticipantJoined, ParticipantID: p.ID}, p.ID)
	r.markDirty()
	r.log.Info("participant joined",
		zap.String("participant_id", p.ID),
		zap.String("role", string(p.Role)),
		zap.Bool("guest", p.Guest()))
	return p, nil
}

// leave removes a participant voluntarily. A leaving host gets the same grace period
// as a dropped one.
func (r *room) leave(participantID string) error {
	p, err := r.participant("leave", participantID)
	if err != nil {
		return err
	}

	wasHost := r.isHost(p.ID)
	r.removeParticipant(p)
	if wasHost {
		r.reconnect.hostDisconnected(p)
	}
	r.relay.broadcast(models.Envelope{Type: models.TypeParticipantLeft, ParticipantID: p.ID}, "")
	r.markDirty()
	r.log.Info("participant left", zap.String("participant_id", p.ID))
	return nil
}

// removeParticipant marks p as gone and tears down its control and signaling state
func (r *room) removeParticipant(p *models.Participant) {
	now := r.now()
	p.LeftAt = &now
	p.ConnectionStatus = models.StatusDisconnected
	r.control.reset(p)
	r.relay.drop(p.ID)
	r.saveParticipant(p)
}

// close cascades to media, timers and subscriptions. Safe to call once.
func (r *room) close(reason string) {
	if r.closed {
		return
	}

	r.reconnect.stop()
	r.media.end("room closed")

	now := r.now()
	r.model.Status = models.RoomStatusClosed
	r.model.ClosedAt = &now
	r.model.CurrentHostID = ""
	r.saveRoom()

	r.version++
	snap := r.snapshot()
	r.relay.broadcast(models.Envelope{Type: models.TypeRoomState, State: &snap}, "")
	r.relay.closeAll()

	r.closed = true
	r.dirty = false
	if r.cancel != nil {
		r.cancel()
	}
	r.log.Info("room closed", zap.String("reason", reason))
}

func (r *room) persist(what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		r.log.Warn("persist failed", zap.String("what", what), zap.Error(err))
	}
}

func (r *room) saveRoom() {
	model := r.model
	r.persist("update room", func(ctx context.Context) error {
		return r.deps.store.UpdateRoom(ctx, model)
	})
}

func (r *room) saveParticipant(p *models.Participant) {
	row := *p
	r.persist("update participant", func(ctx context.Context) error {
		return r.deps.store.UpdateParticipant(ctx, row)
	})
}
