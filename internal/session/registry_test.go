package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/mossy-p/remote-session/internal/store"
	"go.uber.org/zap/zaptest"
)

const testOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

var testAnswer = strings.Replace(testOffer, "a=sendonly", "a=recvonly", 1)

type recordingPipeline struct {
	mu     sync.Mutex
	starts []string
	stops  []string
}

func (p *recordingPipeline) Start(session models.MediaSession, _ models.Quality) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, session.ID)
	return nil
}

func (p *recordingPipeline) Stop(session models.MediaSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops = append(p.stops, session.ID)
}

func (p *recordingPipeline) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts), len(p.stops)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	reg      *Registry
	clock    *clock.Mock
	store    *store.Memory
	pipeline *recordingPipeline
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OutboundQueueSize = 512
	cfg.RoomTTL = 10 * time.Minute
	return cfg
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithConfig(t, testConfig())
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    clock.NewMock(),
		store:    store.NewMemory(),
		pipeline: &recordingPipeline{},
	}
	h.reg = NewRegistry(cfg, h.store, zaptest.NewLogger(t), WithClock(h.clock), WithPipeline(h.pipeline))
	t.Cleanup(h.reg.Shutdown)
	return h
}

func (h *harness) createRoom(settings models.RoomSettings) models.Room {
	h.t.Helper()
	room, err := h.reg.CreateRoom(h.ctx, "host-user", settings)
	if err != nil {
		h.t.Fatalf("CreateRoom failed: %v", err)
	}
	return room
}

func (h *harness) join(roomID, userID, name string) models.Participant {
	h.t.Helper()
	p, err := h.reg.Join(h.ctx, roomID, userID, name)
	if err != nil {
		h.t.Fatalf("Join(%s) failed: %v", name, err)
	}
	return p
}

func (h *harness) subscribe(roomID, participantID string) *Subscription {
	h.t.Helper()
	sub, err := h.reg.Subscribe(h.ctx, roomID, participantID)
	if err != nil {
		h.t.Fatalf("Subscribe failed: %v", err)
	}
	return sub
}

func (h *harness) participant(roomID, participantID string) models.Participant {
	h.t.Helper()
	p, err := h.reg.Participant(h.ctx, roomID, participantID)
	if err != nil {
		h.t.Fatalf("Participant failed: %v", err)
	}
	return p
}

func (h *harness) room(roomID string) *room {
	h.t.Helper()
	r, ok := h.reg.lookup(roomID)
	if !ok {
		h.t.Fatalf("room %s is not live", roomID)
	}
	return r
}

func (h *harness) hostState(roomID string) models.HostState {
	h.t.Helper()
	state, err := h.reg.HostState(h.ctx, roomID)
	if err != nil {
		h.t.Fatalf("HostState failed: %v", err)
	}
	return state
}

// advance moves the clock forward in steps, heartbeating keepAlive after each step
func (h *harness) advance(d time.Duration, roomID string, keepAlive ...string) {
	h.t.Helper()
	const step = 20 * time.Second
	for d > 0 {
		next := min(step, d)
		h.clock.Add(next)
		d -= next
		for _, id := range keepAlive {
			if err := h.reg.Heartbeat(h.ctx, roomID, id); err != nil {
				h.t.Fatalf("Heartbeat(%s) failed: %v", id, err)
			}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func drain(sub *Subscription) []models.Envelope {
	return sub.Drain()
}

func findEnvelope(envs []models.Envelope, typ models.EnvelopeType) (models.Envelope, bool) {
	for _, env := range envs {
		if env.Type == typ {
			return env, true
		}
	}
	return models.Envelope{}, false
}

func countGranted(participants []models.Participant) int {
	n := 0
	for _, p := range participants {
		if p.ControlState == models.ControlGranted {
			n++
		}
	}
	return n
}

func TestCreateRoomDefaults(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(models.RoomSettings{GracePeriod: time.Hour})

	if room.Status != models.RoomStatusOpen {
		t.Errorf("Expected status open, got %s", room.Status)
	}
	if room.Settings.MaxParticipants != DefaultConfig().DefaultMaxParticipants {
		t.Errorf("Expected default max participants, got %d", room.Settings.MaxParticipants)
	}
	if room.Settings.HostPolicy != models.HostPolicyViewerOnly {
		t.Errorf("Expected viewer-only policy, got %s", room.Settings.HostPolicy)
	}
	if room.Settings.GracePeriod != maxGracePeriod {
		t.Errorf("Expected grace period clamped to %v, got %v", maxGracePeriod, room.Settings.GracePeriod)
	}
	if !room.TTLExpiresAt.Equal(room.CreatedAt.Add(10 * time.Minute)) {
		t.Errorf("Unexpected TTL %v", room.TTLExpiresAt)
	}

	if _, err := h.reg.CreateRoom(h.ctx, "", models.RoomSettings{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for anonymous host, got %v", err)
	}
}

func TestJoinCodeLookupIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(models.RoomSettings{})

	if !ValidJoinCode(room.JoinCode) || room.JoinCode != strings.ToUpper(room.JoinCode) {
		t.Fatalf("Join code %q is not six upper-case alphanumerics", room.JoinCode)
	}

	found, err := h.reg.GetRoomByCode(h.ctx, "  "+strings.ToLower(room.JoinCode)+" ")
	if err != nil {
		t.Fatalf("GetRoomByCode failed: %v", err)
	}
	if found.ID != room.ID {
		t.Errorf("Expected room %s, got %s", room.ID, found.ID)
	}

	resolved, err := h.reg.ResolveRoom(h.ctx, strings.ToLower(room.JoinCode))
	if err != nil || resolved.ID != room.ID {
		t.Errorf("ResolveRoom by code = %v, %v", resolved.ID, err)
	}
	resolved, err = h.reg.ResolveRoom(h.ctx, room.ID)
	if err != nil || resolved.ID != room.ID {
		t.Errorf("ResolveRoom by id = %v, %v", resolved.ID, err)
	}

	if _, err := h.reg.GetRoomByCode(h.ctx, "ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown code, got %v", err)
	}
	if _, err := h.reg.GetRoom(h.ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown room, got %v", err)
	}
}

func TestJoinAssignsHostAndEnforcesCapacity(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(models.RoomSettings{MaxParticipants: 2})

	host := h.join(room.ID, "host-user", "Host")
	if host.Role != models.RoleHost {
		t.Errorf("Expected host role, got %s", host.Role)
	}
	viewer := h.join(room.ID, "", "Guest")
	if viewer.Role != models.RoleViewer || !viewer.Guest() {
		t.Errorf("Expected guest viewer, got %+v", viewer)
	}

	if _, err := h.reg.Join(h.ctx, room.ID, "late-user", "Late"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict for full room, got %v", err)
	}

	snap, err := h.reg.Snapshot(h.ctx, room.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Room.CurrentHostID != host.ID {
		t.Errorf("Expected current host %s, got %s", host.ID, snap.Room.CurrentHostID)
	}

	// Rejoining with the same account reuses the participant
	again := h.join(room.ID, "host-user", "Host (laptop)")
	if again.ID != host.ID || again.DisplayName != "Host (laptop)" {
		t.Errorf("Expected rejoin to reuse %s, got %+v", host.ID, again)
	}
}

func TestLeaveFreesSeat(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(models.RoomSettings{MaxParticipants: 2})
	h.join(room.ID, "host-user", "Host")
	viewer := h.join(room.ID, "viewer-1", "Ann")

	if err := h.reg.Leave(h.ctx, room.ID, viewer.ID); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if err := h.reg.Leave(h.ctx, room.ID, viewer.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound leaving twice, got %v", err)
	}

	h.join(room.ID, "viewer-2", "Bob")

	participants, err := h.reg.Participants(h.ctx, room.ID)
	if err != nil {
		t.Fatalf("Participants failed: %v", err)
	}
	if len(participants) != 3 || participants[1].LeftAt == nil {
		t.Errorf("Expected departed participant to keep its row, got %+v", participants)
	}
}

func TestCloseRoomCascades(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(models.RoomSettings{})
	host := h.join(room.ID, "host-user", "Host")
	viewer := h.join(room.ID, "viewer-1", "Ann")
	sub := h.subscribe(room.ID, viewer.ID)

	media, err := h.reg.AttachPublisher(h.ctx, room.ID, host.ID, models.MediaModeP2P, false)
	if err != nil {
		t.Fatalf("AttachPublisher failed: %v", err)
	}

	if err := h.reg.CloseRoom(h.ctx, room.ID, "viewer-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized for non-host close, got %v", err)
	}
	if err := h.reg.CloseRoom(h.ctx, room.ID, "host-user"); err != nil {
		t.Fatalf("CloseRoom failed: %v", err)
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("Expected subscription to be closed")
	}
	envs := drain(sub)
	last := envs[len(envs)-1]
	if last.Type != models.TypeRoomState || last.State.Room.Status != models.RoomStatusClosed {
		t.Errorf("Expected final closed room-state, got %+v", last)
	}

	stored, err := h.reg.GetRoom(h.ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom after close failed: %v", err)
	}
	if stored.Status != models.RoomStatusClosed || stored.ClosedAt == nil {
		t.Errorf("Expected closed room in store, got %+v", stored)
	}
	if _, err := h.store.GetRoomIDByCode(h.ctx, room.JoinCode); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected join code released, got %v", err)
	}

	ended, err := h.store.GetMediaSession(h.ctx, media.ID)
	if err != nil {
		t.Fatalf("GetMediaSession failed: %v", err)
	}
	if ended.Status != models.MediaStatusEnded {
		t.Errorf("Expected media ended, got %s", ended.Status)
	}
	if starts, stops := h.pipeline.counts(); starts != 1 || stops != 1 {
		t.Errorf("Expected one pipeline start and stop, got %d/%d", starts, stops)
	}

	if _, err := h.reg.Join(h.ctx, room.ID, "viewer-2", "Bob"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict joining a closed room, got %v", err)
	}
	if err := h.reg.CloseRoom(h.ctx, room.ID, "host-user"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict closing twice, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	h := newHarness(t)
	idle := h.createRoom(models.RoomSettings{})
	busy := h.createRoom(models.RoomSettings{})
	viewer := h.join(busy.ID, "viewer-1", "Ann")

	h.advance(11*time.Minute, busy.ID, viewer.ID)

	// Heartbeats slide the TTL, so force the busy room past it while the viewer is still connected
	r := h.room(busy.ID)
	r.lock()
	r.model.TTLExpiresAt = h.clock.Now().Add(-time.Second)
	r.mu.Unlock()

	if closed := h.reg.SweepExpired(h.ctx); closed != 1 {
		t.Fatalf("Expected one room swept, got %d", closed)
	}

	room, err := h.reg.GetRoom(h.ctx, idle.ID)
	if err != nil || room.Status != models.RoomStatusClosed {
		t.Errorf("Expected idle room closed, got %+v, %v", room, err)
	}
	room, err = h.reg.GetRoom(h.ctx, busy.ID)
	if err != nil || room.Status == models.RoomStatusClosed {
		t.Errorf("Expected busy room to stay open, got %+v, %v", room, err)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	h := newHarness(t)
	a := h.createRoom(models.RoomSettings{})
	b := h.createRoom(models.RoomSettings{})
	hostA := h.join(a.ID, "host-user", "Host")
	viewerB := h.join(b.ID, "viewer-1", "Ann")
	subB := h.subscribe(b.ID, viewerB.ID)
	drain(subB)

	err := h.reg.Route(h.ctx, b.ID, models.Envelope{
		Type:     models.TypeChat,
		SenderID: hostA.ID,
		Chat:     &models.ChatMessage{Content: "hello"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for a sender from another room, got %v", err)
	}
	if envs := drain(subB); len(envs) != 0 {
		t.Errorf("Expected no envelopes to leak into room b, got %+v", envs)
	}
}

func TestAuthorizeInput(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(models.RoomSettings{})
	host := h.join(room.ID, "host-user", "Host")
	viewer := h.join(room.ID, "viewer-1", "Ann")

	if err := h.reg.GrantControl(h.ctx, room.ID, host.ID, viewer.ID); err != nil {
		t.Fatalf("GrantControl failed: %v", err)
	}
	if err := h.reg.AuthorizeInput(h.ctx, room.ID, viewer.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict without a publisher, got %v", err)
	}

	if _, err := h.reg.AttachPublisher(h.ctx, room.ID, host.ID, models.MediaModeSFU, false); err != nil {
		t.Fatalf("AttachPublisher failed: %v", err)
	}
	if err := h.reg.AuthorizeInput(h.ctx, room.ID, viewer.ID); err != nil {
		t.Errorf("Expected grantee to be authorized, got %v", err)
	}
	if err := h.reg.AuthorizeInput(h.ctx, room.ID, host.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for non-grantee, got %v", err)
	}

	if err := h.reg.DetachPublisher(h.ctx, room.ID, host.ID); err != nil {
		t.Fatalf("DetachPublisher failed: %v", err)
	}
	if err := h.reg.AuthorizeInput(h.ctx, room.ID, viewer.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict with publisher offline, got %v", err)
	}
}
