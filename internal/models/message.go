package models

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// EnvelopeType discriminates the payload carried by an Envelope
type EnvelopeType string

// Client-originated envelope types
const (
	TypeOffer          EnvelopeType = "offer"
	TypeAnswer         EnvelopeType = "answer"
	TypeICECandidate   EnvelopeType = "ice-candidate"
	TypeControlRequest EnvelopeType = "control-request"
	TypeControlGrant   EnvelopeType = "control-grant"
	TypeControlRevoke  EnvelopeType = "control-revoke"
	TypeControlDeny    EnvelopeType = "control-deny"
	TypeKick           EnvelopeType = "kick"
	TypeMute           EnvelopeType = "mute"
	TypeChat           EnvelopeType = "chat"
	TypeHeartbeat      EnvelopeType = "heartbeat"
)

// Server-originated envelope types
const (
	TypeParticipantJoined EnvelopeType = "participant-joined"
	TypeParticipantLeft   EnvelopeType = "participant-left"
	TypePresence          EnvelopeType = "presence"
	TypePublisherState    EnvelopeType = "publisher-state"
	TypeRenegotiate       EnvelopeType = "renegotiate"
	TypeHostStatus        EnvelopeType = "host-status"
	TypeRoomState         EnvelopeType = "room-state"
	TypeError             EnvelopeType = "error"
)

// Envelope is a single relayed signaling, control, presence or chat message.
// Which fields are meaningful depends on Type. Envelopes are never persisted.
type Envelope struct {
	Type          EnvelopeType `json:"type"`
	RoomID        string       `json:"roomId,omitempty"`
	SenderID      string       `json:"senderId,omitempty"`
	RecipientID   string       `json:"recipientId,omitempty"`
	ParticipantID string       `json:"participantId,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// ice-candidate
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`

	// kick / control-deny / host-status
	Reason string `json:"reason,omitempty"`

	// mute
	Muted *bool `json:"muted,omitempty"`

	// presence
	Status ConnectionStatus `json:"status,omitempty"`

	// publisher-state
	PublisherOnline *bool `json:"publisherOnline,omitempty"`

	// chat
	Chat *ChatMessage `json:"chat,omitempty"`

	// room-state
	State *RoomSnapshot `json:"state,omitempty"`

	Error string `json:"error,omitempty"`
}

// ChatMessage is relayed on the chat channel without being stored
type ChatMessage struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Content     string `json:"content"`
}
