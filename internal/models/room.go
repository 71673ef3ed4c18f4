package models

import "time"

// RoomStatus is the lifecycle status of a room
type RoomStatus string

const (
	RoomStatusOpen   RoomStatus = "open"
	RoomStatusActive RoomStatus = "active"
	RoomStatusPaused RoomStatus = "paused"
	RoomStatusClosed RoomStatus = "closed"
)

// HostPolicy decides what happens when the host does not return within the grace period
type HostPolicy string

const (
	HostPolicyBackupHost        HostPolicy = "backup-host"
	HostPolicyPromoteController HostPolicy = "promote-controller"
	HostPolicyViewerOnly        HostPolicy = "viewer-only"
)

// Quality is the requested stream quality hint passed to the capture pipeline
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// RoomSettings are chosen by the host when the room is created
type RoomSettings struct {
	MaxParticipants   int           `json:"maxParticipants"`
	AllowGuestControl bool          `json:"allowGuestControl"`
	Quality           Quality       `json:"quality"`
	HostPolicy        HostPolicy    `json:"hostPolicy"`
	BackupHostUserID  string        `json:"backupHostUserId,omitempty"`
	GracePeriod       time.Duration `json:"gracePeriod,omitempty"`
}

// Room is the durable collaborative session container. It outlives any single host connection.
type Room struct {
	ID            string       `json:"id"`
	JoinCode      string       `json:"joinCode"` // Six upper-case alphanumeric chars
	HostUserID    string       `json:"hostUserId"`
	CurrentHostID string       `json:"currentHostId,omitempty"` // Participant ID of the live host, empty while absent
	Status        RoomStatus   `json:"status"`
	Settings      RoomSettings `json:"settings"`
	CreatedAt     time.Time    `json:"createdAt"`
	TTLExpiresAt  time.Time    `json:"ttlExpiresAt"`
	ClosedAt      *time.Time   `json:"closedAt,omitempty"`
}

// MediaMode is the topology used to deliver the shared screen
type MediaMode string

const (
	MediaModeP2P MediaMode = "p2p"
	MediaModeSFU MediaMode = "sfu"
)

// MediaStatus is the lifecycle status of a media session
type MediaStatus string

const (
	MediaStatusActive MediaStatus = "active"
	MediaStatusPaused MediaStatus = "paused"
	MediaStatusEnded  MediaStatus = "ended"
)

// MediaSession is the ephemeral attachment of a screen-sharing publisher to a room
type MediaSession struct {
	ID              string      `json:"id"`
	RoomID          string      `json:"roomId"`
	Mode            MediaMode   `json:"mode"`
	PublisherID     string      `json:"publisherId"`
	Status          MediaStatus `json:"status"`
	PublisherOnline bool        `json:"publisherOnline"`
	StartedAt       time.Time   `json:"startedAt"`
	EndedAt         *time.Time  `json:"endedAt,omitempty"`
}

// Live reports whether the session has not ended
func (m *MediaSession) Live() bool {
	return m != nil && m.Status != MediaStatusEnded
}

// Role of a participant in a room
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// ControlState is the remote-control delegation state of a participant
type ControlState string

const (
	ControlViewOnly  ControlState = "view-only"
	ControlRequested ControlState = "requested"
	ControlGranted   ControlState = "granted"
	ControlRevoked   ControlState = "revoked"
)

// ConnectionStatus is the soft connectivity state inferred from heartbeats
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Participant is a member of a room. Guests have no UserID.
type Participant struct {
	ID               string           `json:"id"`
	RoomID           string           `json:"roomId"`
	UserID           string           `json:"userId,omitempty"`
	DisplayName      string           `json:"displayName"`
	Role             Role             `json:"role"`
	ControlState     ControlState     `json:"controlState"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	Muted            bool             `json:"muted"`
	LastSeenAt       time.Time        `json:"lastSeenAt"`
	JoinedAt         time.Time        `json:"joinedAt"`
	LeftAt           *time.Time       `json:"leftAt,omitempty"`
}

// Present reports whether the participant has not left or been kicked
func (p *Participant) Present() bool {
	return p.LeftAt == nil
}

// Guest reports whether the participant joined without an account
func (p *Participant) Guest() bool {
	return p.UserID == ""
}

// HostState is the reconnection state of a room's host
type HostState string

const (
	HostStable     HostState = "stable"
	HostAbsent     HostState = "host-absent"
	HostReassigned HostState = "reassigned"
	HostViewerOnly HostState = "viewer-only"
)

// RoomSnapshot is the authoritative view of a room at a given version
type RoomSnapshot struct {
	Room         Room          `json:"room"`
	Participants []Participant `json:"participants"`
	MediaSession *MediaSession `json:"mediaSession,omitempty"`
	HostState    HostState     `json:"hostState"`
	Version      uint64        `json:"version"`
}

// ControlRequest is a pending request for remote control
type ControlRequest struct {
	ParticipantID string    `json:"participantId"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	MaxParticipants    int        `json:"maxParticipants" binding:"omitempty,min=2,max=64"`
	AllowGuestControl  bool       `json:"allowGuestControl"`
	Quality            Quality    `json:"quality" binding:"omitempty,oneof=low medium high"`
	HostPolicy         HostPolicy `json:"hostPolicy" binding:"omitempty,oneof=backup-host promote-controller viewer-only"`
	BackupHostUserID   string     `json:"backupHostUserId,omitempty"`
	GracePeriodSeconds int        `json:"gracePeriodSeconds,omitempty"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID   string `json:"roomId"`
	JoinCode string `json:"joinCode"`
}

// JoinRoomRequest contains data sent when joining a room
type JoinRoomRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// AttachPublisherRequest starts or switches a media session
type AttachPublisherRequest struct {
	Mode       MediaMode `json:"mode" binding:"required,oneof=p2p sfu"`
	SwitchMode bool      `json:"switchMode"`
}
