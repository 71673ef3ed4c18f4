package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, time.Hour), mr
}

func backends(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  redisStore,
	}
}

func testRoom(id, code string) models.Room {
	return models.Room{
		ID:         id,
		JoinCode:   code,
		HostUserID: "host-user",
		Status:     models.RoomStatusOpen,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.PutRoom(ctx, testRoom("r1", "ABC234")); err != nil {
				t.Fatalf("PutRoom failed: %v", err)
			}

			if err := s.PutRoom(ctx, testRoom("r2", "ABC234")); !errors.Is(err, ErrJoinCodeTaken) {
				t.Fatalf("Expected ErrJoinCodeTaken, got %v", err)
			}

			id, err := s.GetRoomIDByCode(ctx, "ABC234")
			if err != nil || id != "r1" {
				t.Fatalf("GetRoomIDByCode = %q, %v", id, err)
			}

			room, err := s.GetRoom(ctx, "r1")
			if err != nil {
				t.Fatalf("GetRoom failed: %v", err)
			}
			room.Status = models.RoomStatusClosed
			if err := s.UpdateRoom(ctx, room); err != nil {
				t.Fatalf("UpdateRoom failed: %v", err)
			}

			// A closed room releases its join code
			if _, err := s.GetRoomIDByCode(ctx, "ABC234"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected code to be released, got %v", err)
			}
			if err := s.PutRoom(ctx, testRoom("r3", "ABC234")); err != nil {
				t.Errorf("Expected code reuse after close, got %v", err)
			}

			if err := s.UpdateRoom(ctx, testRoom("missing", "ZZZ999")); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound updating unknown room, got %v", err)
			}
		})
	}
}

func TestParticipantsAndMedia(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			second := models.Participant{ID: "p2", RoomID: "r1", DisplayName: "Bo", JoinedAt: now.Add(time.Second)}
			first := models.Participant{ID: "p1", RoomID: "r1", DisplayName: "Al", JoinedAt: now}
			for _, p := range []models.Participant{second, first} {
				if err := s.PutParticipant(ctx, p); err != nil {
					t.Fatalf("PutParticipant failed: %v", err)
				}
			}

			list, err := s.ListParticipants(ctx, "r1")
			if err != nil {
				t.Fatalf("ListParticipants failed: %v", err)
			}
			if len(list) != 2 || list[0].ID != "p1" {
				t.Fatalf("Expected participants ordered by join time, got %+v", list)
			}

			first.ControlState = models.ControlGranted
			if err := s.UpdateParticipant(ctx, first); err != nil {
				t.Fatalf("UpdateParticipant failed: %v", err)
			}
			got, err := s.GetParticipant(ctx, "r1", "p1")
			if err != nil || got.ControlState != models.ControlGranted {
				t.Errorf("GetParticipant = %+v, %v", got, err)
			}
			if err := s.UpdateParticipant(ctx, models.Participant{ID: "ghost", RoomID: "r1"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound for unknown participant, got %v", err)
			}

			media := models.MediaSession{ID: "m1", RoomID: "r1", Mode: models.MediaModeP2P, Status: models.MediaStatusActive}
			if err := s.PutMediaSession(ctx, media); err != nil {
				t.Fatalf("PutMediaSession failed: %v", err)
			}
			media.Status = models.MediaStatusPaused
			if err := s.UpdateMediaSession(ctx, media); err != nil {
				t.Fatalf("UpdateMediaSession failed: %v", err)
			}
			gotMedia, err := s.GetMediaSession(ctx, "m1")
			if err != nil || gotMedia.Status != models.MediaStatusPaused {
				t.Errorf("GetMediaSession = %+v, %v", gotMedia, err)
			}
		})
	}
}

func TestRedisKeysCarryRetention(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	if err := s.PutRoom(ctx, testRoom("r1", "QWE789")); err != nil {
		t.Fatalf("PutRoom failed: %v", err)
	}
	if ttl := mr.TTL("room:r1"); ttl != time.Hour {
		t.Errorf("Expected room key TTL of 1h, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.GetRoom(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected room to expire, got %v", err)
	}
}
