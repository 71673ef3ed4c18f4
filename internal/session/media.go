package session

import (
	"context"
	"fmt"

	"github.com/mossy-p/remote-session/internal/models"
	"go.uber.org/zap"
)

// mediaManager holds the room's single non-ended media session. A replaced
// session is always ended before its successor is created.
type mediaManager struct {
	r       *room
	current *models.MediaSession
}

func (m *mediaManager) attach(publisherID string, mode models.MediaMode, switchMode bool) (models.MediaSession, error) {
	const op = "attach publisher"

	if mode != models.MediaModeP2P && mode != models.MediaModeSFU {
		return models.MediaSession{}, conflict(op, "unknown media mode %q", mode)
	}
	if _, err := m.r.participant(op, publisherID); err != nil {
		return models.MediaSession{}, err
	}
	if !m.r.isHost(publisherID) {
		return models.MediaSession{}, unauthorized(op, "only the host can share a screen")
	}

	if cur := m.current; cur.Live() {
		if cur.Mode != mode && !switchMode {
			return models.MediaSession{}, conflict(op, "a %s session is already active, switch mode explicitly", cur.Mode)
		}
		if cur.Mode == mode && cur.PublisherID == publisherID {
			if err := m.resume(); err != nil {
				return models.MediaSession{}, err
			}
			return *m.current, nil
		}
		m.end("replaced")
	}

	session := &models.MediaSession{
		ID:              m.r.deps.newID(),
		RoomID:          m.r.model.ID,
		Mode:            mode,
		PublisherID:     publisherID,
		Status:          models.MediaStatusActive,
		PublisherOnline: true,
		StartedAt:       m.r.now(),
	}
	if err := m.r.deps.pipeline.Start(*session, m.r.model.Settings.Quality); err != nil {
		return models.MediaSession{}, fmt.Errorf("%s: start capture: %w", op, err)
	}

	m.current = session
	row := *session
	m.r.persist("put media session", func(ctx context.Context) error {
		return m.r.deps.store.PutMediaSession(ctx, row)
	})
	m.r.setStatus(models.RoomStatusActive)
	m.announce()
	m.r.log.Info("publisher attached",
		zap.String("media_session_id", session.ID),
		zap.String("publisher_id", publisherID),
		zap.String("mode", string(mode)))
	return *session, nil
}

// detach takes the publisher offline. P2P viewers lose their source so the session
// pauses; SFU viewers stay connected to the relay and are told there is no publisher.
func (m *mediaManager) detach() bool {
	cur := m.current
	if !cur.Live() || !cur.PublisherOnline {
		return false
	}

	cur.PublisherOnline = false
	if cur.Mode == models.MediaModeP2P {
		cur.Status = models.MediaStatusPaused
	}
	m.r.deps.pipeline.Stop(*cur)
	m.save()
	m.announce()
	m.r.log.Info("publisher detached",
		zap.String("media_session_id", cur.ID),
		zap.String("status", string(cur.Status)))
	return true
}

// resume brings the same publisher back and asks it to renegotiate with an ICE restart
func (m *mediaManager) resume() error {
	cur := m.current
	if !cur.Live() {
		return conflict("resume media", "no media session to resume")
	}
	if cur.Status == models.MediaStatusActive && cur.PublisherOnline {
		return nil
	}

	if err := m.r.deps.pipeline.Start(*cur, m.r.model.Settings.Quality); err != nil {
		return fmt.Errorf("resume media: start capture: %w", err)
	}
	cur.Status = models.MediaStatusActive
	cur.PublisherOnline = true
	m.save()
	m.r.setStatus(models.RoomStatusActive)
	m.announce()

	m.r.relay.send(cur.PublisherID, models.Envelope{
		Type:   models.TypeRenegotiate,
		Reason: "ice-restart",
	}, true)
	m.r.log.Info("media session resumed", zap.String("media_session_id", cur.ID))
	return nil
}

// end is terminal; sharing again needs a new attach
func (m *mediaManager) end(reason string) {
	cur := m.current
	if !cur.Live() {
		return
	}

	if cur.PublisherOnline {
		m.r.deps.pipeline.Stop(*cur)
	}
	now := m.r.now()
	cur.Status = models.MediaStatusEnded
	cur.PublisherOnline = false
	cur.EndedAt = &now
	m.save()
	m.announce()
	if m.r.model.Status == models.RoomStatusActive {
		m.r.setStatus(models.RoomStatusOpen)
	}
	m.r.log.Info("media session ended", zap.String("media_session_id", cur.ID), zap.String("reason", reason))
}

func (m *mediaManager) announce() {
	cur := m.current
	online := cur.PublisherOnline
	m.r.relay.broadcast(models.Envelope{
		Type:            models.TypePublisherState,
		SenderID:        cur.PublisherID,
		PublisherOnline: &online,
	}, cur.PublisherID)
	m.r.markDirty()
}

func (m *mediaManager) save() {
	row := *m.current
	m.r.persist("update media session", func(ctx context.Context) error {
		return m.r.deps.store.UpdateMediaSession(ctx, row)
	})
}
