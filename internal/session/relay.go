package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type pendingEnvelope struct {
	env     models.Envelope
	expires time.Time
}

// signalingRelay routes envelopes between the participants of one room. Each
// recipient has its own bounded queue, so a slow consumer only loses its own
// oldest envelopes. Point-to-point envelopes for a participant that is known but
// not currently subscribed are held for SignalBufferWindow to bridge a reconnect.
type signalingRelay struct {
	r       *room
	subs    map[string]*Subscription
	pending map[string][]pendingEnvelope
}

func newSignalingRelay(r *room) signalingRelay {
	return signalingRelay{
		r:       r,
		subs:    make(map[string]*Subscription),
		pending: make(map[string][]pendingEnvelope),
	}
}

// route dispatches a client envelope. Every envelope type is listed explicitly so a
// new kind cannot be silently ignored.
func (s *signalingRelay) route(env models.Envelope) error {
	op := "route " + string(env.Type)

	sender, err := s.r.participant(op, env.SenderID)
	if err != nil {
		return err
	}

	env.RoomID = s.r.model.ID
	if env.Timestamp.IsZero() {
		env.Timestamp = s.r.now()
	}

	switch env.Type {
	case models.TypeOffer:
		return s.offer(op, sender, env)
	case models.TypeAnswer:
		if err := validateSDP(op, webrtc.SDPTypeAnswer, env.SDP); err != nil {
			return err
		}
		return s.pointToPoint(op, sender, env)
	case models.TypeICECandidate:
		if env.Candidate == nil {
			return signalingErr(op, "candidate payload is required")
		}
		return s.pointToPoint(op, sender, env)
	case models.TypeControlRequest:
		return s.r.control.request(sender.ID)
	case models.TypeControlGrant:
		return s.r.control.grant(sender.ID, target(env))
	case models.TypeControlRevoke:
		return s.r.control.revoke(sender.ID, target(env))
	case models.TypeControlDeny:
		return s.r.control.deny(sender.ID, target(env), env.Reason)
	case models.TypeKick:
		return s.r.control.kick(sender.ID, target(env), env.Reason)
	case models.TypeMute:
		if env.Muted == nil {
			return signalingErr(op, "muted flag is required")
		}
		who := target(env)
		if who == "" {
			who = sender.ID
		}
		return s.r.control.mute(sender.ID, who, *env.Muted)
	case models.TypeChat:
		return s.chat(op, sender, env)
	case models.TypeHeartbeat:
		return s.r.presence.heartbeat(sender.ID)
	case models.TypeParticipantJoined, models.TypeParticipantLeft, models.TypePresence,
		models.TypePublisherState, models.TypeRenegotiate, models.TypeHostStatus,
		models.TypeRoomState, models.TypeError:
		return signalingErr(op, "%s envelopes are sent by the server only", env.Type)
	default:
		return signalingErr(op, "unknown envelope type %q", env.Type)
	}
}

func target(env models.Envelope) string {
	if env.ParticipantID != "" {
		return env.ParticipantID
	}
	return env.RecipientID
}

func validateSDP(op string, kind webrtc.SDPType, sdp string) error {
	if strings.TrimSpace(sdp) == "" {
		return signalingErr(op, "sdp is required")
	}
	desc := webrtc.SessionDescription{Type: kind, SDP: sdp}
	if _, err := desc.Unmarshal(); err != nil {
		return signalingErr(op, "malformed sdp: %v", err)
	}
	return nil
}

// offer is only accepted from the room's current publisher. Without a recipient
// it fans out to every other participant.
func (s *signalingRelay) offer(op string, sender *models.Participant, env models.Envelope) error {
	current := s.r.media.current
	if !current.Live() || current.PublisherID != sender.ID {
		return unauthorized(op, "only the current publisher can send offers")
	}
	if err := validateSDP(op, webrtc.SDPTypeOffer, env.SDP); err != nil {
		return err
	}

	if env.RecipientID != "" {
		return s.pointToPoint(op, sender, env)
	}
	for _, id := range s.r.order {
		p := s.r.participants[id]
		if p.ID == sender.ID || !p.Present() {
			continue
		}
		out := env
		out.RecipientID = p.ID
		s.deliver(p.ID, out, true)
	}
	return nil
}

func (s *signalingRelay) pointToPoint(op string, sender *models.Participant, env models.Envelope) error {
	if env.RecipientID == "" {
		return signalingErr(op, "recipientId is required")
	}
	if env.RecipientID == sender.ID {
		return signalingErr(op, "cannot signal yourself")
	}
	recipient, ok := s.r.participants[env.RecipientID]
	if !ok || !recipient.Present() {
		return signalingErr(op, "unknown recipient %s", env.RecipientID)
	}
	s.deliver(recipient.ID, env, true)
	return nil
}

func (s *signalingRelay) chat(op string, sender *models.Participant, env models.Envelope) error {
	if env.Chat == nil || strings.TrimSpace(env.Chat.Content) == "" {
		return signalingErr(op, "chat content is required")
	}
	env.Chat = &models.ChatMessage{
		ID:          uuid.New().String(),
		DisplayName: sender.DisplayName,
		Content:     env.Chat.Content,
	}
	env.RecipientID = ""
	s.broadcast(env, "")
	return nil
}

// send delivers a server-originated envelope to one participant
func (s *signalingRelay) send(to string, env models.Envelope, buffer bool) {
	if to == "" {
		return
	}
	env.RoomID = s.r.model.ID
	env.RecipientID = to
	if env.Timestamp.IsZero() {
		env.Timestamp = s.r.now()
	}
	s.deliver(to, env, buffer)
}

// broadcast delivers env to every subscribed participant except exclude. Nothing is
// buffered: a late subscriber gets a fresh room-state snapshot instead.
func (s *signalingRelay) broadcast(env models.Envelope, exclude string) {
	env.RoomID = s.r.model.ID
	if env.Timestamp.IsZero() {
		env.Timestamp = s.r.now()
	}
	for _, id := range s.r.order {
		if id == exclude {
			continue
		}
		if sub, ok := s.subs[id]; ok {
			s.push(sub, env)
		}
	}
}

func (s *signalingRelay) deliver(to string, env models.Envelope, buffer bool) {
	if sub, ok := s.subs[to]; ok {
		s.push(sub, env)
		return
	}
	if !buffer {
		return
	}

	queue := append(s.pending[to], pendingEnvelope{
		env:     env,
		expires: s.r.now().Add(s.r.deps.cfg.SignalBufferWindow),
	})
	if limit := s.r.deps.cfg.OutboundQueueSize; len(queue) > limit {
		s.r.log.Warn("signaling buffer full, dropping oldest",
			zap.String("recipient_id", to),
			zap.String("type", string(queue[0].env.Type)))
		queue = queue[len(queue)-limit:]
	}
	s.pending[to] = queue
}

func (s *signalingRelay) push(sub *Subscription, env models.Envelope) {
	if sub.push(env) {
		s.r.log.Warn("outbound queue full, dropped oldest envelope",
			zap.String("participant_id", sub.ParticipantID),
			zap.String("type", string(env.Type)))
	}
}

// subscribe replaces any previous subscription for the participant, sends the
// current room state and then flushes buffered envelopes in arrival order.
func (s *signalingRelay) subscribe(participantID string) *Subscription {
	if old, ok := s.subs[participantID]; ok {
		old.close()
	}

	sub := newSubscription(s.r.model.ID, participantID, s.r.deps.cfg.OutboundQueueSize)
	s.subs[participantID] = sub

	snap := s.r.snapshot()
	sub.push(models.Envelope{
		Type:        models.TypeRoomState,
		RoomID:      s.r.model.ID,
		RecipientID: participantID,
		Timestamp:   s.r.now(),
		State:       &snap,
	})

	now := s.r.now()
	for _, p := range s.pending[participantID] {
		if now.After(p.expires) {
			s.undeliverable(participantID, p.env)
			continue
		}
		s.push(sub, p.env)
	}
	delete(s.pending, participantID)
	return sub
}

func (s *signalingRelay) unsubscribe(participantID string, sub *Subscription) {
	if current, ok := s.subs[participantID]; ok && current == sub {
		delete(s.subs, participantID)
	}
	sub.close()
}

func (s *signalingRelay) subscribed(participantID string) bool {
	_, ok := s.subs[participantID]
	return ok
}

// expire drops buffered envelopes whose window has passed and reports each one
// back to its sender
func (s *signalingRelay) expire(now time.Time) {
	for to, queue := range s.pending {
		kept := queue[:0]
		for _, p := range queue {
			if now.After(p.expires) {
				s.undeliverable(to, p.env)
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(s.pending, to)
		} else {
			s.pending[to] = kept
		}
	}
}

func (s *signalingRelay) undeliverable(to string, env models.Envelope) {
	err := signalingErr("deliver "+string(env.Type), "recipient %s did not reconnect in time", to)
	s.r.log.Warn("dropping undelivered envelope",
		zap.String("recipient_id", to),
		zap.String("sender_id", env.SenderID),
		zap.String("type", string(env.Type)))

	if env.SenderID == "" {
		return
	}
	s.send(env.SenderID, models.Envelope{
		Type:          models.TypeError,
		ParticipantID: to,
		Error:         err.Error(),
	}, false)
}

// drop closes the participant's subscription and discards anything buffered for it
func (s *signalingRelay) drop(participantID string) {
	if sub, ok := s.subs[participantID]; ok {
		sub.close()
		delete(s.subs, participantID)
	}
	delete(s.pending, participantID)
}

func (s *signalingRelay) closeAll() {
	for id, sub := range s.subs {
		sub.close()
		delete(s.subs, id)
	}
	s.pending = make(map[string][]pendingEnvelope)
}

// pendingFor reports how many envelopes are buffered for an unsubscribed participant
func (s *signalingRelay) pendingFor(participantID string) int {
	return len(s.pending[participantID])
}
