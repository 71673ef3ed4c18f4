package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/mossy-p/remote-session/internal/store"
	"go.uber.org/zap"
)

const (
	minGracePeriod   = 2 * time.Minute
	maxGracePeriod   = 5 * time.Minute
	joinCodeAttempts = 8
)

// Config tunes timers and buffers shared by every room
type Config struct {
	HeartbeatInterval      time.Duration
	MissedHeartbeats       int
	GracePeriod            time.Duration
	RoomTTL                time.Duration
	SweepInterval          time.Duration
	SignalBufferWindow     time.Duration
	OutboundQueueSize      int
	DefaultMaxParticipants int
	DefaultHostPolicy      models.HostPolicy
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:      30 * time.Second,
		MissedHeartbeats:       3,
		GracePeriod:            3 * time.Minute,
		RoomTTL:                24 * time.Hour,
		SweepInterval:          time.Minute,
		SignalBufferWindow:     10 * time.Second,
		OutboundQueueSize:      64,
		DefaultMaxParticipants: 8,
		DefaultHostPolicy:      models.HostPolicyViewerOnly,
	}
}

// Option customises a Registry
type Option func(*deps)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c clock.Clock) Option {
	return func(d *deps) { d.clock = c }
}

// WithPipeline sets the capture pipeline started and stopped with publishers
func WithPipeline(p CapturePipeline) Option {
	return func(d *deps) { d.pipeline = p }
}

type deps struct {
	cfg      Config
	clock    clock.Clock
	log      *zap.Logger
	store    store.Store
	pipeline CapturePipeline
	newID    func() string
}

// Registry owns every live room. Rooms are independent: the registry lock only
// guards the room map and is never held while a room is being mutated.
type Registry struct {
	deps *deps

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewRegistry(cfg Config, st store.Store, log *zap.Logger, opts ...Option) *Registry {
	d := &deps{
		cfg:      cfg,
		clock:    clock.New(),
		log:      log,
		store:    st,
		pipeline: noopPipeline{},
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return &Registry{
		deps:  d,
		rooms: make(map[string]*room),
	}
}

func (g *Registry) normalizeSettings(s models.RoomSettings) models.RoomSettings {
	if s.MaxParticipants <= 0 {
		s.MaxParticipants = g.deps.cfg.DefaultMaxParticipants
	}
	if s.Quality == "" {
		s.Quality = models.QualityMedium
	}
	if s.HostPolicy == "" {
		s.HostPolicy = g.deps.cfg.DefaultHostPolicy
	}
	if s.GracePeriod == 0 {
		s.GracePeriod = g.deps.cfg.GracePeriod
	}
	s.GracePeriod = min(max(s.GracePeriod, minGracePeriod), maxGracePeriod)
	return s
}

// CreateRoom opens a new room for hostUserID with a unique join code
func (g *Registry) CreateRoom(ctx context.Context, hostUserID string, settings models.RoomSettings) (models.Room, error) {
	const op = "create room"

	if hostUserID == "" {
		return models.Room{}, unauthorized(op, "a signed-in user is required to host")
	}

	now := g.deps.clock.Now().UTC()
	model := models.Room{
		ID:           g.deps.newID(),
		HostUserID:   hostUserID,
		Status:       models.RoomStatusOpen,
		Settings:     g.normalizeSettings(settings),
		CreatedAt:    now,
		TTLExpiresAt: now.Add(g.deps.cfg.RoomTTL),
	}

	for attempt := 0; ; attempt++ {
		code, err := GenerateJoinCode()
		if err != nil {
			return models.Room{}, fmt.Errorf("%s: generate join code: %w", op, err)
		}
		model.JoinCode = code

		err = g.deps.store.PutRoom(ctx, model)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrJoinCodeTaken) || attempt+1 >= joinCodeAttempts {
			return models.Room{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	r := newRoom(g.deps, model)
	g.mu.Lock()
	g.rooms[model.ID] = r
	g.mu.Unlock()
	r.start()

	g.deps.log.Info("room created",
		zap.String("room_id", model.ID),
		zap.String("join_code", model.JoinCode),
		zap.String("host_user_id", hostUserID))
	return model, nil
}

// GetRoom returns the room by ID. Closed rooms are served from the store.
func (g *Registry) GetRoom(ctx context.Context, id string) (models.Room, error) {
	if r, ok := g.lookup(id); ok {
		r.lock()
		defer r.mu.Unlock()
		return r.model, nil
	}

	model, err := g.deps.store.GetRoom(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Room{}, notFound("get room", "room %s", id)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("get room: %w", err)
	}
	return model, nil
}

// GetRoomByCode looks a room up by join code, ignoring case
func (g *Registry) GetRoomByCode(ctx context.Context, code string) (models.Room, error) {
	const op = "get room by code"

	code = NormalizeJoinCode(code)
	if !ValidJoinCode(code) {
		return models.Room{}, notFound(op, "invalid join code %q", code)
	}
	id, err := g.deps.store.GetRoomIDByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return models.Room{}, notFound(op, "no room with code %s", code)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("%s: %w", op, err)
	}
	return g.GetRoom(ctx, id)
}

// ResolveRoom accepts either a room ID or a join code
func (g *Registry) ResolveRoom(ctx context.Context, idOrCode string) (models.Room, error) {
	if ValidJoinCode(NormalizeJoinCode(idOrCode)) {
		if room, err := g.GetRoomByCode(ctx, idOrCode); err == nil {
			return room, nil
		}
	}
	return g.GetRoom(ctx, idOrCode)
}

// CloseRoom closes a room on behalf of its original host user
func (g *Registry) CloseRoom(ctx context.Context, id, actorUserID string) error {
	const op = "close room"

	r, err := g.live(op, id)
	if err != nil {
		return err
	}

	r.lock()
	if r.closed {
		r.unlock()
		return nil
	}
	if actorUserID == "" || actorUserID != r.model.HostUserID {
		r.unlock()
		return unauthorized(op, "only the host can close the room")
	}
	r.close("closed by host")
	r.unlock()

	g.forget(id)
	return nil
}

// SweepExpired closes open or paused rooms past their TTL that nobody is connected to
func (g *Registry) SweepExpired(ctx context.Context) int {
	g.mu.RLock()
	rooms := make([]*room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	now := g.deps.clock.Now()
	closed := 0
	for _, r := range rooms {
		if ctx.Err() != nil {
			break
		}

		r.lock()
		expired := !r.closed &&
			(r.model.Status == models.RoomStatusOpen || r.model.Status == models.RoomStatusPaused) &&
			now.After(r.model.TTLExpiresAt) &&
			r.connectedCount() == 0
		if expired {
			r.close("ttl expired")
		}
		id := r.model.ID
		r.unlock()

		if expired {
			g.forget(id)
			closed++
		}
	}
	if closed > 0 {
		g.deps.log.Info("ttl sweep closed rooms", zap.Int("count", closed))
	}
	return closed
}

// Run sweeps expired rooms until ctx is cancelled
func (g *Registry) Run(ctx context.Context) {
	ticker := g.deps.clock.Ticker(g.deps.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.SweepExpired(ctx)
		}
	}
}

// Shutdown stops every room's timers and subscriptions without closing the rooms
// in the store, so they can be picked up again by the next process.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	rooms := g.rooms
	g.rooms = make(map[string]*room)
	g.mu.Unlock()

	for _, r := range rooms {
		r.lock()
		r.reconnect.stop()
		r.relay.closeAll()
		if r.cancel != nil {
			r.cancel()
		}
		r.closed = true
		r.mu.Unlock()
	}
}

// Join adds a participant, or reconnects the existing one for a signed-in user
func (g *Registry) Join(ctx context.Context, roomID, userID, displayName string) (models.Participant, error) {
	var out models.Participant
	err := g.withRoom("join", roomID, func(r *room) error {
		p, err := r.join(userID, displayName)
		if err != nil {
			return err
		}
		out = *p
		return nil
	})
	return out, err
}

func (g *Registry) Leave(ctx context.Context, roomID, participantID string) error {
	return g.withRoom("leave", roomID, func(r *room) error {
		return r.leave(participantID)
	})
}

// Heartbeat records liveness for a participant
func (g *Registry) Heartbeat(ctx context.Context, roomID, participantID string) error {
	return g.withRoom("heartbeat", roomID, func(r *room) error {
		return r.presence.heartbeat(participantID)
	})
}

// Subscribe opens the participant's outbound stream, replacing any previous one
func (g *Registry) Subscribe(ctx context.Context, roomID, participantID string) (*Subscription, error) {
	var sub *Subscription
	err := g.withRoom("subscribe", roomID, func(r *room) error {
		if _, err := r.participant("subscribe", participantID); err != nil {
			return err
		}
		sub = r.relay.subscribe(participantID)
		return nil
	})
	return sub, err
}

func (g *Registry) Unsubscribe(roomID string, sub *Subscription) {
	r, ok := g.lookup(roomID)
	if !ok {
		sub.close()
		return
	}
	r.lock()
	defer r.unlock()
	r.relay.unsubscribe(sub.ParticipantID, sub)
}

// Route relays a client envelope within its room
func (g *Registry) Route(ctx context.Context, roomID string, env models.Envelope) error {
	return g.withRoom("route", roomID, func(r *room) error {
		return r.relay.route(env)
	})
}

func (g *Registry) RequestControl(ctx context.Context, roomID, participantID string) error {
	return g.withRoom("request control", roomID, func(r *room) error {
		return r.control.request(participantID)
	})
}

func (g *Registry) GrantControl(ctx context.Context, roomID, actorID, targetID string) error {
	return g.withRoom("grant control", roomID, func(r *room) error {
		return r.control.grant(actorID, targetID)
	})
}

func (g *Registry) DenyControl(ctx context.Context, roomID, actorID, targetID, reason string) error {
	return g.withRoom("deny control", roomID, func(r *room) error {
		return r.control.deny(actorID, targetID, reason)
	})
}

func (g *Registry) RevokeControl(ctx context.Context, roomID, actorID, targetID string) error {
	return g.withRoom("revoke control", roomID, func(r *room) error {
		return r.control.revoke(actorID, targetID)
	})
}

func (g *Registry) Kick(ctx context.Context, roomID, actorID, targetID, reason string) error {
	return g.withRoom("kick", roomID, func(r *room) error {
		return r.control.kick(actorID, targetID, reason)
	})
}

func (g *Registry) Mute(ctx context.Context, roomID, actorID, targetID string, muted bool) error {
	return g.withRoom("mute", roomID, func(r *room) error {
		return r.control.mute(actorID, targetID, muted)
	})
}

// PendingControlRequests lists outstanding control requests, oldest first
func (g *Registry) PendingControlRequests(ctx context.Context, roomID string) ([]models.ControlRequest, error) {
	var out []models.ControlRequest
	err := g.withRoom("pending requests", roomID, func(r *room) error {
		out = r.control.pending()
		return nil
	})
	return out, err
}

// AttachPublisher starts (or resumes) screen sharing for the room's host
func (g *Registry) AttachPublisher(ctx context.Context, roomID, participantID string, mode models.MediaMode, switchMode bool) (models.MediaSession, error) {
	var out models.MediaSession
	err := g.withRoom("attach publisher", roomID, func(r *room) error {
		session, err := r.media.attach(participantID, mode, switchMode)
		out = session
		return err
	})
	return out, err
}

// DetachPublisher takes the host's share offline without ending the media session
func (g *Registry) DetachPublisher(ctx context.Context, roomID, actorID string) error {
	const op = "detach publisher"
	return g.withRoom(op, roomID, func(r *room) error {
		if !r.isHost(actorID) {
			return unauthorized(op, "only the host can stop sharing")
		}
		if r.media.detach() && r.media.current.Mode == models.MediaModeP2P {
			r.setStatus(models.RoomStatusPaused)
		}
		return nil
	})
}

// EndSession terminates the media session; sharing again needs a new attach
func (g *Registry) EndSession(ctx context.Context, roomID, actorID string) error {
	const op = "end session"
	return g.withRoom(op, roomID, func(r *room) error {
		if !r.isHost(actorID) {
			return unauthorized(op, "only the host can end the screen share")
		}
		r.media.end("ended by host")
		if r.model.Status == models.RoomStatusPaused {
			r.setStatus(models.RoomStatusOpen)
		}
		return nil
	})
}

// MediaSession returns the room's current or most recent media session
func (g *Registry) MediaSession(ctx context.Context, roomID string) (models.MediaSession, error) {
	var out models.MediaSession
	err := g.withRoom("media session", roomID, func(r *room) error {
		if r.media.current == nil {
			return notFound("media session", "room %s has never shared a screen", roomID)
		}
		out = *r.media.current
		return nil
	})
	return out, err
}

// Snapshot returns the authoritative state of a live room
func (g *Registry) Snapshot(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	var out models.RoomSnapshot
	err := g.withRoom("snapshot", roomID, func(r *room) error {
		out = r.snapshot()
		return nil
	})
	return out, err
}

// Participants lists everyone who has joined the room in join order, including those who left
func (g *Registry) Participants(ctx context.Context, roomID string) ([]models.Participant, error) {
	var out []models.Participant
	err := g.withRoom("participants", roomID, func(r *room) error {
		out = r.snapshot().Participants
		return nil
	})
	return out, err
}

func (g *Registry) Participant(ctx context.Context, roomID, participantID string) (models.Participant, error) {
	var out models.Participant
	err := g.withRoom("participant", roomID, func(r *room) error {
		p, ok := r.participants[participantID]
		if !ok {
			return notFound("participant", "participant %s", participantID)
		}
		out = *p
		return nil
	})
	return out, err
}

func (g *Registry) HostState(ctx context.Context, roomID string) (models.HostState, error) {
	var out models.HostState
	err := g.withRoom("host state", roomID, func(r *room) error {
		out = r.reconnect.state
		return nil
	})
	return out, err
}

// AuthorizeInput gates the input-injection executor: only the participant holding
// control may drive the host's machine, and only while the host is actually sharing.
func (g *Registry) AuthorizeInput(ctx context.Context, roomID, participantID string) error {
	const op = "authorize input"
	return g.withRoom(op, roomID, func(r *room) error {
		p, err := r.participant(op, participantID)
		if err != nil {
			return err
		}
		if p.ControlState != models.ControlGranted {
			return unauthorized(op, "participant %s does not hold control", p.ID)
		}
		if p.ConnectionStatus != models.StatusConnected {
			return conflict(op, "participant %s is %s", p.ID, p.ConnectionStatus)
		}
		cur := r.media.current
		if !cur.Live() || cur.Status != models.MediaStatusActive || !cur.PublisherOnline {
			return conflict(op, "no active publisher")
		}
		return nil
	})
}

func (g *Registry) lookup(id string) (*room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// live returns a room that is still running in this process
func (g *Registry) live(op, id string) (*room, error) {
	if r, ok := g.lookup(id); ok {
		return r, nil
	}
	if _, err := g.deps.store.GetRoom(context.Background(), id); err == nil {
		return nil, conflict(op, "room %s is closed", id)
	}
	return nil, notFound(op, "room %s", id)
}

func (g *Registry) forget(id string) {
	g.mu.Lock()
	delete(g.rooms, id)
	g.mu.Unlock()
}

// withRoom runs fn as the room's single writer
func (g *Registry) withRoom(op, roomID string, fn func(r *room) error) error {
	r, err := g.live(op, roomID)
	if err != nil {
		return err
	}

	r.lock()
	defer r.unlock()
	if r.closed {
		return conflict(op, "room %s is closed", roomID)
	}
	return fn(r)
}
