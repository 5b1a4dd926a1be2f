package server

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrSubscriberClosed reports a send to a subscriber whose connection is gone.
	ErrSubscriberClosed = errors.New("subscriber closed")
	// ErrSubscriberBacklog reports a subscriber that stopped draining its queue.
	ErrSubscriberBacklog = errors.New("subscriber backlog full")
)

// Subscriber is one relay connection's outbound queue plus its room
// memberships. Sends never block: a full queue closes the subscriber so the
// client reconnects and receives a fresh snapshot.
type Subscriber struct {
	id   string
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
	// rooms maps room code to the player id bound in that room, or "" for a
	// member that has not joined as a player.
	rooms map[string]string

	queued  atomic.Uint64
	dropped atomic.Uint64
}

// NewSubscriber constructs a subscriber with the given queue capacity.
func NewSubscriber(id string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscriber{
		id:    id,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
		rooms: make(map[string]string),
	}
}

// ID returns the connection id.
func (s *Subscriber) ID() string {
	return s.id
}

// Enqueue queues a frame without blocking.
func (s *Subscriber) Enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return ErrSubscriberClosed
	}
	select {
	case s.send <- frame:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		s.closeLocked()
		return ErrSubscriberBacklog
	}
}

// Outbound is drained by the connection's write loop.
func (s *Subscriber) Outbound() <-chan []byte {
	return s.send
}

// Done is closed when the subscriber stops accepting frames.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close stops the subscriber. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscriber) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Closed reports whether the subscriber has stopped.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PlayerID returns the player bound in the given room.
func (s *Subscriber) PlayerID(code string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[code]
}

// Rooms lists the rooms the subscriber is a member of.
func (s *Subscriber) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Stats returns queued and dropped frame counts.
func (s *Subscriber) Stats() (queued, dropped uint64) {
	return s.queued.Load(), s.dropped.Load()
}

func (s *Subscriber) member(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; !ok {
		s.rooms[code] = ""
	}
}

// bind records playerID for the room and returns the previous binding.
func (s *Subscriber) bind(code, playerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.rooms[code]
	s.rooms[code] = playerID
	return previous
}

// leave drops the membership and returns the bound player id.
func (s *Subscriber) leave(code string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	playerID, ok := s.rooms[code]
	delete(s.rooms, code)
	return playerID, ok
}
