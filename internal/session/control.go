package session

import (
	"github.com/mossy-p/remote-session/internal/models"
	"go.uber.org/zap"
)

// controlArbiter enforces single-grantee remote control for a room:
//
//	view-only -> requested -> granted -> revoked -> view-only
//	requested -> view-only (deny)
//
// Grants happen under the room lock, so the previous grantee is demoted before the
// new one is granted and no observer ever sees two grants.
type controlArbiter struct {
	r        *room
	requests []models.ControlRequest
}

func (c *controlArbiter) request(participantID string) error {
	const op = "request control"

	p, err := c.r.participant(op, participantID)
	if err != nil {
		return err
	}
	if c.r.isHost(p.ID) {
		return conflict(op, "the host already controls the shared screen")
	}
	if p.Guest() && !c.r.model.Settings.AllowGuestControl {
		return conflict(op, "guests cannot take control in this room")
	}

	switch p.ControlState {
	case models.ControlRequested, models.ControlGranted:
		return nil
	}

	req := models.ControlRequest{ParticipantID: p.ID, RequestedAt: c.r.now()}
	p.ControlState = models.ControlRequested
	c.requests = append(c.requests, req)
	c.r.saveParticipant(p)

	c.r.relay.send(c.r.model.CurrentHostID, models.Envelope{
		Type:          models.TypeControlRequest,
		SenderID:      p.ID,
		ParticipantID: p.ID,
		Timestamp:     req.RequestedAt,
	}, true)
	c.r.markDirty()
	c.r.log.Info("control requested", zap.String("participant_id", p.ID))
	return nil
}

func (c *controlArbiter) grant(actorID, targetID string) error {
	const op = "grant control"

	if !c.r.isHost(actorID) {
		return unauthorized(op, "only the host can grant control")
	}
	p, err := c.r.participant(op, targetID)
	if err != nil {
		return err
	}
	if c.r.isHost(p.ID) {
		return conflict(op, "the host already controls the shared screen")
	}
	if p.Guest() && !c.r.model.Settings.AllowGuestControl {
		return conflict(op, "guests cannot take control in this room")
	}
	if p.ControlState == models.ControlGranted {
		return nil
	}

	if holder := c.grantee(); holder != nil {
		c.demote(holder, "control transferred")
	}

	p.ControlState = models.ControlGranted
	c.clearRequest(p.ID)
	c.r.saveParticipant(p)

	c.r.relay.send(p.ID, models.Envelope{
		Type:          models.TypeControlGrant,
		SenderID:      actorID,
		ParticipantID: p.ID,
	}, true)
	c.r.markDirty()
	c.r.log.Info("control granted", zap.String("participant_id", p.ID))
	return nil
}

func (c *controlArbiter) deny(actorID, targetID, reason string) error {
	const op = "deny control"

	if !c.r.isHost(actorID) {
		return unauthorized(op, "only the host can deny control requests")
	}
	p, err := c.r.participant(op, targetID)
	if err != nil {
		return err
	}
	if p.ControlState != models.ControlRequested {
		return conflict(op, "participant %s has no pending request", p.ID)
	}

	p.ControlState = models.ControlViewOnly
	c.clearRequest(p.ID)
	c.r.saveParticipant(p)

	c.r.relay.send(p.ID, models.Envelope{
		Type:          models.TypeControlDeny,
		SenderID:      actorID,
		ParticipantID: p.ID,
		Reason:        reason,
	}, true)
	c.r.markDirty()
	return nil
}

func (c *controlArbiter) revoke(actorID, targetID string) error {
	const op = "revoke control"

	if !c.r.isHost(actorID) {
		return unauthorized(op, "only the host can revoke control")
	}
	p, err := c.r.participant(op, targetID)
	if err != nil {
		return err
	}

	switch p.ControlState {
	case models.ControlGranted:
		c.demote(p, "revoked by host")
	case models.ControlRequested:
		p.ControlState = models.ControlViewOnly
		c.clearRequest(p.ID)
		c.r.saveParticipant(p)
		c.r.markDirty()
	}
	return nil
}

// demote takes control away from the current grantee
func (c *controlArbiter) demote(p *models.Participant, reason string) {
	p.ControlState = models.ControlRevoked
	c.r.relay.send(p.ID, models.Envelope{
		Type:          models.TypeControlRevoke,
		ParticipantID: p.ID,
		Reason:        reason,
	}, true)

	p.ControlState = models.ControlViewOnly
	c.clearRequest(p.ID)
	c.r.saveParticipant(p)
	c.r.markDirty()
	c.r.log.Info("control revoked", zap.String("participant_id", p.ID), zap.String("reason", reason))
}

func (c *controlArbiter) kick(actorID, targetID, reason string) error {
	const op = "kick"

	if !c.r.isHost(actorID) {
		return unauthorized(op, "only the host can remove participants")
	}
	p, err := c.r.participant(op, targetID)
	if err != nil {
		return err
	}
	if p.ID == actorID {
		return conflict(op, "the host cannot kick themselves")
	}

	c.r.relay.send(p.ID, models.Envelope{
		Type:          models.TypeKick,
		SenderID:      actorID,
		ParticipantID: p.ID,
		Reason:        reason,
	}, false)

	c.r.kicked[p.ID] = true
	c.r.removeParticipant(p)
	c.r.relay.broadcast(models.Envelope{
		Type:          models.TypeParticipantLeft,
		ParticipantID: p.ID,
		Reason:        "kicked",
	}, "")
	c.r.markDirty()
	c.r.log.Info("participant kicked", zap.String("participant_id", p.ID), zap.String("reason", reason))
	return nil
}

// mute is orthogonal to control state. The host can mute anyone, others only themselves.
func (c *controlArbiter) mute(actorID, targetID string, muted bool) error {
	const op = "mute"

	if actorID != targetID && !c.r.isHost(actorID) {
		return unauthorized(op, "only the host can mute other participants")
	}
	p, err := c.r.participant(op, targetID)
	if err != nil {
		return err
	}
	if p.Muted == muted {
		return nil
	}

	p.Muted = muted
	c.r.saveParticipant(p)
	c.r.relay.broadcast(models.Envelope{
		Type:          models.TypeMute,
		SenderID:      actorID,
		ParticipantID: p.ID,
		Muted:         &muted,
	}, "")
	c.r.markDirty()
	return nil
}

// reset clears any control state held by a departing participant
func (c *controlArbiter) reset(p *models.Participant) {
	if p.ControlState != models.ControlViewOnly {
		p.ControlState = models.ControlViewOnly
		c.r.markDirty()
	}
	c.clearRequest(p.ID)
}

func (c *controlArbiter) grantee() *models.Participant {
	for _, id := range c.r.order {
		if p := c.r.participants[id]; p.ControlState == models.ControlGranted {
			return p
		}
	}
	return nil
}

// pending returns outstanding requests, oldest first
func (c *controlArbiter) pending() []models.ControlRequest {
	out := make([]models.ControlRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *controlArbiter) clearRequest(participantID string) {
	kept := c.requests[:0]
	for _, req := range c.requests {
		if req.ParticipantID != participantID {
			kept = append(kept, req)
		}
	}
	c.requests = kept
}
