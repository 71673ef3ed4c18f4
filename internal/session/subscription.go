package session

import (
	"context"
	"sync"

	"github.com/mossy-p/remote-session/internal/models"
)

// Subscription is a participant's outbound envelope stream. The queue is bounded;
// once full the oldest envelope is dropped so a slow consumer never blocks the room.
type Subscription struct {
	ParticipantID string
	RoomID        string

	mu      sync.Mutex
	buf     []models.Envelope
	limit   int
	dropped int
	closed  bool
	ready   chan struct{}
	done    chan struct{}
}

func newSubscription(roomID, participantID string, limit int) *Subscription {
	if limit < 1 {
		limit = 1
	}
	return &Subscription{
		ParticipantID: participantID,
		RoomID:        roomID,
		limit:         limit,
		ready:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// push enqueues env without blocking and reports whether an older envelope was dropped
func (s *Subscription) push(env models.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	dropped := false
	if len(s.buf) >= s.limit {
		s.buf = s.buf[1:]
		s.dropped++
		dropped = true
	}
	s.buf = append(s.buf, env)

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Ready is signalled whenever envelopes are waiting to be drained
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the room drops the subscription (kick, close, resubscribe)
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Drain returns every queued envelope in delivery order
func (s *Subscription) Drain() []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.buf
	s.buf = nil
	return out
}

// Dropped is the number of envelopes discarded because the queue was full
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Next blocks until an envelope is available. Envelopes queued before the
// subscription was closed are still delivered; after that it returns ErrSubscriptionClosed.
func (s *Subscription) Next(ctx context.Context) (models.Envelope, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			env := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return env, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return models.Envelope{}, ErrSubscriptionClosed
		}

		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return models.Envelope{}, ctx.Err()
		}
	}
}
