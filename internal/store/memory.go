package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mossy-p/remote-session/internal/models"
)

// Memory is an in-process Store used for development and tests
type Memory struct {
	mu           sync.RWMutex
	rooms        map[string]models.Room
	codes        map[string]string
	media        map[string]models.MediaSession
	participants map[string]map[string]models.Participant
}

func NewMemory() *Memory {
	return &Memory{
		rooms:        make(map[string]models.Room),
		codes:        make(map[string]string),
		media:        make(map[string]models.MediaSession),
		participants: make(map[string]map[string]models.Participant),
	}
}

func (m *Memory) PutRoom(_ context.Context, room models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.codes[room.JoinCode]; taken {
		return ErrJoinCodeTaken
	}
	m.codes[room.JoinCode] = room.ID
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) GetRoom(_ context.Context, id string) (models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[id]
	if !ok {
		return models.Room{}, ErrNotFound
	}
	return room, nil
}

func (m *Memory) GetRoomIDByCode(_ context.Context, code string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.codes[code]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *Memory) UpdateRoom(_ context.Context, room models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room.ID]; !ok {
		return ErrNotFound
	}
	m.rooms[room.ID] = room
	// Closed rooms give their join code back
	if room.Status == models.RoomStatusClosed && m.codes[room.JoinCode] == room.ID {
		delete(m.codes, room.JoinCode)
	}
	return nil
}

func (m *Memory) PutMediaSession(_ context.Context, session models.MediaSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[session.ID] = session
	return nil
}

func (m *Memory) GetMediaSession(_ context.Context, id string) (models.MediaSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.media[id]
	if !ok {
		return models.MediaSession{}, ErrNotFound
	}
	return session, nil
}

func (m *Memory) UpdateMediaSession(_ context.Context, session models.MediaSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.media[session.ID]; !ok {
		return ErrNotFound
	}
	m.media[session.ID] = session
	return nil
}

func (m *Memory) PutParticipant(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.participants[p.RoomID]
	if !ok {
		byID = make(map[string]models.Participant)
		m.participants[p.RoomID] = byID
	}
	byID[p.ID] = p
	return nil
}

func (m *Memory) GetParticipant(_ context.Context, roomID, id string) (models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[roomID][id]
	if !ok {
		return models.Participant{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) UpdateParticipant(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.participants[p.RoomID][p.ID]; !ok {
		return ErrNotFound
	}
	m.participants[p.RoomID][p.ID] = p
	return nil
}

func (m *Memory) ListParticipants(_ context.Context, roomID string) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Participant, 0, len(m.participants[roomID]))
	for _, p := range m.participants[roomID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}
