// Package roomview keeps a client's picture of a room: the last authoritative
// room-state plus local edits applied before the server has confirmed them.
package roomview

import (
	"sync"

	"github.com/mossy-p/remote-session/internal/models"
)

// Mutation is a local change applied optimistically to the projection
type Mutation func(*models.RoomSnapshot)

type pendingMutation struct {
	id    string
	apply Mutation
}

// View is safe for concurrent use. Reconciliation is last-writer-wins by version:
// an authoritative snapshot replaces the base wholesale if it is newer, stale ones are ignored.
type View struct {
	mu      sync.Mutex
	base    models.RoomSnapshot
	pending []pendingMutation
}

func New() *View {
	return &View{}
}

// Apply records a local change under id until the server confirms or rejects it
func (v *View) Apply(id string, m Mutation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = append(v.pending, pendingMutation{id: id, apply: m})
}

// Confirm drops a pending change once the server has acknowledged it; the next
// room-state carries its effect
func (v *View) Confirm(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drop(id)
}

// Reject rolls back a pending change the server refused
func (v *View) Reject(id string) {
	v.Confirm(id)
}

// Reconcile applies an authoritative snapshot and reports whether it was newer
func (v *View) Reconcile(snap models.RoomSnapshot) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap.Version < v.base.Version {
		return false
	}
	v.base = snap
	return true
}

// Handle feeds an inbound envelope into the view and reports whether it changed the base.
// Only room-state envelopes carry authoritative state.
func (v *View) Handle(env models.Envelope) bool {
	if env.Type != models.TypeRoomState || env.State == nil {
		return false
	}
	return v.Reconcile(*env.State)
}

// Current returns the authoritative snapshot with pending local changes layered on top
func (v *View) Current() models.RoomSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := v.base
	out.Participants = append([]models.Participant(nil), v.base.Participants...)
	if v.base.MediaSession != nil {
		m := *v.base.MediaSession
		out.MediaSession = &m
	}
	for _, p := range v.pending {
		p.apply(&out)
	}
	return out
}

// Version is the version of the last authoritative snapshot applied
func (v *View) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.base.Version
}

// Pending reports how many local changes are still unconfirmed
func (v *View) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

func (v *View) drop(id string) {
	kept := v.pending[:0]
	for _, p := range v.pending {
		if p.id != id {
			kept = append(kept, p)
		}
	}
	v.pending = kept
}

// SetControlState is the optimistic form of a control request, grant or revoke
func SetControlState(participantID string, state models.ControlState) Mutation {
	return func(s *models.RoomSnapshot) {
		for i := range s.Participants {
			if s.Participants[i].ID == participantID {
				s.Participants[i].ControlState = state
			}
		}
	}
}

// SetMuted is the optimistic form of a mute toggle
func SetMuted(participantID string, muted bool) Mutation {
	return func(s *models.RoomSnapshot) {
		for i := range s.Participants {
			if s.Participants[i].ID == participantID {
				s.Participants[i].Muted = muted
			}
		}
	}
}

// RemoveParticipant is the optimistic form of a leave or kick
func RemoveParticipant(participantID string) Mutation {
	return func(s *models.RoomSnapshot) {
		kept := s.Participants[:0]
		for _, p := range s.Participants {
			if p.ID != participantID {
				kept = append(kept, p)
			}
		}
		s.Participants = kept
	}
}
