// Package store is the durable row store behind the session registry.
package store

import (
	"context"
	"errors"

	"github.com/mossy-p/remote-session/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrJoinCodeTaken = errors.New("join code already in use")
)

// Store persists rooms, media sessions and participants. Put fails on a join code
// collision; Update fails with ErrNotFound when the row was never put.
type Store interface {
	PutRoom(ctx context.Context, room models.Room) error
	GetRoom(ctx context.Context, id string) (models.Room, error)
	GetRoomIDByCode(ctx context.Context, code string) (string, error)
	UpdateRoom(ctx context.Context, room models.Room) error

	PutMediaSession(ctx context.Context, session models.MediaSession) error
	GetMediaSession(ctx context.Context, id string) (models.MediaSession, error)
	UpdateMediaSession(ctx context.Context, session models.MediaSession) error

	PutParticipant(ctx context.Context, p models.Participant) error
	GetParticipant(ctx context.Context, roomID, id string) (models.Participant, error)
	UpdateParticipant(ctx context.Context, p models.Participant) error
	ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error)
}
