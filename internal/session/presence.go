package session

import (
	"time"

	"github.com/mossy-p/remote-session/internal/models"
	"go.uber.org/zap"
)

// presenceTracker infers connectivity from heartbeats. A participant becomes
// reconnecting after one missed interval and disconnected after MissedHeartbeats,
// so a short network blip does not look like everyone dropped at once.
type presenceTracker struct {
	r *room
}

func (t *presenceTracker) heartbeat(participantID string) error {
	p, err := t.r.participant("heartbeat", participantID)
	if err != nil {
		return err
	}
	t.markSeen(p, t.r.now())
	t.r.refreshTTL()
	return nil
}

// markSeen records liveness and flips the participant back to connected
func (t *presenceTracker) markSeen(p *models.Participant, now time.Time) {
	p.LastSeenAt = now
	if p.ConnectionStatus == models.StatusConnected {
		return
	}

	previous := p.ConnectionStatus
	p.ConnectionStatus = models.StatusConnected
	t.r.saveParticipant(p)
	t.announce(p)
	t.r.log.Debug("participant connected",
		zap.String("participant_id", p.ID),
		zap.String("previous", string(previous)))

	if t.r.reconnect.isAbsentHost(p) {
		t.r.reconnect.hostReturned(p)
	}
}

func (t *presenceTracker) sweep(now time.Time) {
	interval := t.r.deps.cfg.HeartbeatInterval
	disconnectAfter := interval * time.Duration(t.r.deps.cfg.MissedHeartbeats)

	for _, id := range t.r.order {
		p := t.r.participants[id]
		if !p.Present() || p.ConnectionStatus == models.StatusDisconnected {
			continue
		}

		silent := now.Sub(p.LastSeenAt)
		switch {
		case silent > disconnectAfter:
			t.disconnect(p)
		case silent > interval && p.ConnectionStatus == models.StatusConnected:
			p.ConnectionStatus = models.StatusReconnecting
			t.r.saveParticipant(p)
			t.announce(p)
		}
	}
}

func (t *presenceTracker) disconnect(p *models.Participant) {
	p.ConnectionStatus = models.StatusDisconnected
	t.r.saveParticipant(p)
	t.announce(p)
	t.r.log.Info("participant disconnected", zap.String("participant_id", p.ID))

	// The host is never kicked for silence, it gets a grace period instead
	if t.r.isHost(p.ID) {
		t.r.reconnect.hostDisconnected(p)
	}
}

func (t *presenceTracker) announce(p *models.Participant) {
	t.r.relay.broadcast(models.Envelope{
		Type:          models.TypePresence,
		ParticipantID: p.ID,
		Status:        p.ConnectionStatus,
	}, p.ID)
	t.r.markDirty()
}
