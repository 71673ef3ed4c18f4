package session

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mossy-p/remote-session/internal/models"
	"go.uber.org/zap"
)

// reconnectCoordinator runs the host-absence state machine:
//
//	stable -> host-absent -> {stable, reassigned, viewer-only}
//
// Every transition bumps gen. The grace timer captures gen when armed and is a
// no-op if it fires after the room has moved on, so a host that returns first
// always wins over a timer that has not yet been processed.
type reconnectCoordinator struct {
	r            *room
	state        models.HostState
	gen          uint64
	timer        *clock.Timer
	absentHostID string
	absentSince  time.Time
}

func (c *reconnectCoordinator) isAbsentHost(p *models.Participant) bool {
	if p.ID != c.absentHostID {
		return false
	}
	return c.state == models.HostAbsent || c.state == models.HostViewerOnly
}

func (c *reconnectCoordinator) hostDisconnected(host *models.Participant) {
	if c.state == models.HostAbsent {
		return
	}

	c.gen++
	c.state = models.HostAbsent
	c.absentHostID = host.ID
	c.absentSince = c.r.now()
	c.r.model.CurrentHostID = ""

	// The room degrades but never closes; it reads open until a publisher is live again
	c.r.media.detach()
	c.r.setStatus(models.RoomStatusOpen)
	c.r.saveRoom()
	c.announce(host.ID, "host-absent")

	grace := c.r.model.Settings.GracePeriod
	gen := c.gen
	c.stopTimer()
	c.timer = c.r.deps.clock.AfterFunc(grace, func() {
		c.r.onGraceTimer(gen)
	})
	c.r.log.Info("host absent, grace period started",
		zap.String("host_id", host.ID),
		zap.Duration("grace", grace))
}

func (c *reconnectCoordinator) hostReturned(host *models.Participant) {
	previous := c.state
	switch previous {
	case models.HostAbsent:
		c.stopTimer()
	case models.HostViewerOnly:
	default:
		return
	}

	c.gen++
	c.state = models.HostStable
	c.absentHostID = ""
	host.Role = models.RoleHost
	c.r.model.CurrentHostID = host.ID
	c.r.saveParticipant(host)

	// After viewer-only continuation the share stays ended; the host must attach again
	if previous == models.HostAbsent && c.r.media.current.Live() && c.r.media.current.PublisherID == host.ID {
		if err := c.r.media.resume(); err != nil {
			c.r.log.Warn("media resume failed", zap.Error(err))
		}
	}
	c.r.saveRoom()
	c.announce(host.ID, "host-returned")
	c.r.log.Info("host returned",
		zap.String("host_id", host.ID),
		zap.Duration("absent_for", c.r.now().Sub(c.absentSince)))
}

// graceExpired applies the room's host policy. Called with the room locked.
func (c *reconnectCoordinator) graceExpired(gen uint64) {
	if gen != c.gen || c.state != models.HostAbsent {
		c.r.log.Debug("stale grace timer ignored", zap.Uint64("gen", gen), zap.Uint64("current", c.gen))
		return
	}
	c.timer = nil

	settings := c.r.model.Settings
	var candidate *models.Participant
	switch settings.HostPolicy {
	case models.HostPolicyBackupHost:
		if p := c.r.findByUser(settings.BackupHostUserID); p != nil && p.ID != c.absentHostID && c.eligible(p) {
			candidate = p
		}
	case models.HostPolicyPromoteController:
		if p := c.r.control.grantee(); p != nil && c.eligible(p) {
			candidate = p
		}
	}

	if candidate != nil {
		c.promote(candidate)
		return
	}
	c.viewerOnly()
}

func (c *reconnectCoordinator) eligible(p *models.Participant) bool {
	return p.Present() && p.ConnectionStatus == models.StatusConnected
}

// promote hands the room to p. The old share ends; the new host attaches its own.
func (c *reconnectCoordinator) promote(p *models.Participant) {
	c.gen++
	if old, ok := c.r.participants[c.absentHostID]; ok {
		old.Role = models.RoleViewer
		c.r.saveParticipant(old)
	}

	c.r.control.reset(p)
	p.Role = models.RoleHost
	c.r.saveParticipant(p)

	c.state = models.HostReassigned
	c.absentHostID = ""
	c.r.model.CurrentHostID = p.ID
	c.r.media.end("host reassigned")
	c.r.setStatus(models.RoomStatusOpen)
	c.r.saveRoom()
	c.announce(p.ID, "host-reassigned")
	c.r.log.Info("host reassigned", zap.String("host_id", p.ID))
}

// viewerOnly keeps the room open for chat and presence with no screen share
func (c *reconnectCoordinator) viewerOnly() {
	c.gen++
	c.state = models.HostViewerOnly
	if holder := c.r.control.grantee(); holder != nil {
		c.r.control.demote(holder, "screen share ended")
	}
	c.r.media.end("host did not return")
	c.r.setStatus(models.RoomStatusOpen)
	c.r.saveRoom()
	c.announce(c.absentHostID, "viewer-only")
	c.r.log.Info("host did not return, continuing viewer-only")
}

func (c *reconnectCoordinator) announce(hostID, reason string) {
	c.r.relay.broadcast(models.Envelope{
		Type:          models.TypeHostStatus,
		ParticipantID: hostID,
		Reason:        reason,
	}, "")
	c.r.markDirty()
}

func (c *reconnectCoordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// stop cancels the grace timer and invalidates any callback already in flight
func (c *reconnectCoordinator) stop() {
	c.stopTimer()
	c.gen++
}

// onGraceTimer is the grace timer callback; it runs on the timer's goroutine
func (r *room) onGraceTimer(gen uint64) {
	r.lock()
	defer r.unlock()

	if !r.closed {
		r.reconnect.graceExpired(gen)
	}
}
