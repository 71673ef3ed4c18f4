package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mossy-p/remote-session/internal/models"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	room:<id>               room JSON
//	code:<joinCode>         room ID, written with SETNX for uniqueness
//	room:<id>:participants  hash of participant ID -> participant JSON
//	media:<id>              media session JSON
const (
	roomPrefix  = "room:"
	codePrefix  = "code:"
	mediaPrefix = "media:"
)

// Redis is a Store backed by a Redis server. Every key is written with the
// retention TTL so abandoned rooms eventually disappear from Redis too.
type Redis struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedis(client *redis.Client, retention time.Duration) *Redis {
	return &Redis{client: client, retention: retention}
}

func roomKey(id string) string         { return roomPrefix + id }
func codeKey(code string) string       { return codePrefix + code }
func participantsKey(id string) string { return roomPrefix + id + ":participants" }
func mediaKey(id string) string        { return mediaPrefix + id }

func (s *Redis) PutRoom(ctx context.Context, room models.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}

	// Store code-to-ID mapping first, it is the uniqueness constraint
	ok, err := s.client.SetNX(ctx, codeKey(room.JoinCode), room.ID, s.retention).Result()
	if err != nil {
		return fmt.Errorf("store room code: %w", err)
	}
	if !ok {
		return ErrJoinCodeTaken
	}

	if err := s.client.Set(ctx, roomKey(room.ID), data, s.retention).Err(); err != nil {
		s.client.Del(ctx, codeKey(room.JoinCode))
		return fmt.Errorf("store room: %w", err)
	}
	return nil
}

func (s *Redis) GetRoom(ctx context.Context, id string) (models.Room, error) {
	var room models.Room
	if err := s.getJSON(ctx, roomKey(id), &room); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (s *Redis) GetRoomIDByCode(ctx context.Context, code string) (string, error) {
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get room code: %w", err)
	}
	return id, nil
}

func (s *Redis) UpdateRoom(ctx context.Context, room models.Room) error {
	if err := s.updateJSON(ctx, roomKey(room.ID), room); err != nil {
		return err
	}

	if room.Status == models.RoomStatusClosed {
		// Release the join code only if it still points at this room
		id, err := s.client.Get(ctx, codeKey(room.JoinCode)).Result()
		if err == nil && id == room.ID {
			s.client.Del(ctx, codeKey(room.JoinCode))
		}
		return nil
	}
	return s.client.Expire(ctx, codeKey(room.JoinCode), s.retention).Err()
}

func (s *Redis) PutMediaSession(ctx context.Context, session models.MediaSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal media session: %w", err)
	}
	return s.client.Set(ctx, mediaKey(session.ID), data, s.retention).Err()
}

func (s *Redis) GetMediaSession(ctx context.Context, id string) (models.MediaSession, error) {
	var session models.MediaSession
	if err := s.getJSON(ctx, mediaKey(id), &session); err != nil {
		return models.MediaSession{}, err
	}
	return session, nil
}

func (s *Redis) UpdateMediaSession(ctx context.Context, session models.MediaSession) error {
	return s.updateJSON(ctx, mediaKey(session.ID), session)
}

func (s *Redis) PutParticipant(ctx context.Context, p models.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	key := participantsKey(p.RoomID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, p.ID, data)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store participant: %w", err)
	}
	return nil
}

func (s *Redis) GetParticipant(ctx context.Context, roomID, id string) (models.Participant, error) {
	data, err := s.client.HGet(ctx, participantsKey(roomID), id).Result()
	if errors.Is(err, redis.Nil) {
		return models.Participant{}, ErrNotFound
	}
	if err != nil {
		return models.Participant{}, fmt.Errorf("get participant: %w", err)
	}

	var p models.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return models.Participant{}, fmt.Errorf("parse participant: %w", err)
	}
	return p, nil
}

func (s *Redis) UpdateParticipant(ctx context.Context, p models.Participant) error {
	exists, err := s.client.HExists(ctx, participantsKey(p.RoomID), p.ID).Result()
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return s.PutParticipant(ctx, p)
}

func (s *Redis) ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	rows, err := s.client.HGetAll(ctx, participantsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	out := make([]models.Participant, 0, len(rows))
	for _, data := range rows {
		var p models.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			continue // Skip malformed rows
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Redis) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}

func (s *Redis) updateJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	ok, err := s.client.SetXX(ctx, key, data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
