// Package realtime implements room membership and the message and typing
// relays that sit on top of it.
package realtime

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/developerYeasin/blood-donation-backend/internal/metrics"
)

// Session is a connected client that can receive serialized events.
type Session interface {
	ID() string
	Send(msg []byte) error
}

// Broadcaster delivers one serialized event to every member of a room except
// the excluded session, and reports how many sessions it reached.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, payload []byte, except string) (int, error)
}

// Registry maps rooms to their member sessions. It lives for the process and
// is unbounded.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]Session
	sessions map[string]map[string]struct{}
	log      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		rooms:    make(map[string]map[string]Session),
		sessions: make(map[string]map[string]struct{}),
		log:      log,
	}
}

// Join adds a session to a room. Joining a room twice is a no-op; it
// reports whether the session was newly added.
func (r *Registry) Join(s Session, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Session)
		r.rooms[room] = members
	}
	if _, exists := members[s.ID()]; exists {
		return false
	}
	members[s.ID()] = s

	joined, ok := r.sessions[s.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.sessions[s.ID()] = joined
	}
	joined[room] = struct{}{}

	metrics.SocketRooms.Set(float64(len(r.rooms)))
	return true
}

// Leave removes a session from one room and reports whether it was a member.
func (r *Registry) Leave(sessionID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeLocked(sessionID, room) {
		return false
	}
	if joined := r.sessions[sessionID]; len(joined) == 0 {
		delete(r.sessions, sessionID)
	}
	metrics.SocketRooms.Set(float64(len(r.rooms)))
	return true
}

// Disconnect removes a session from every room it joined and returns those
// rooms.
func (r *Registry) Disconnect(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.sessions[sessionID]
	left := make([]string, 0, len(joined))
	for room := range joined {
		r.removeLocked(sessionID, room)
		left = append(left, room)
	}
	delete(r.sessions, sessionID)
	metrics.SocketRooms.Set(float64(len(r.rooms)))

	sort.Strings(left)
	return left
}

func (r *Registry) removeLocked(sessionID, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[sessionID]; !ok {
		return false
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	delete(r.sessions[sessionID], room)
	return true
}

// Members returns the session ids in a room, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns the rooms a session has joined, sorted.
func (r *Registry) Rooms(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.sessions[sessionID]))
	for room := range r.sessions[sessionID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Broadcast sends payload to every member of room except the session with
// id except. A member whose send fails is skipped; delivery is at most once.
func (r *Registry) Broadcast(_ context.Context, room string, payload []byte, except string) (int, error) {
	r.mu.RLock()
	targets := make([]Session, 0, len(r.rooms[room]))
	for id, s := range r.rooms[room] {
		if id != except {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	reached := 0
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			metrics.SocketBackpressure.Inc()
			r.log.Debug("skip room member",
				zap.String("room", room),
				zap.String("session_id", s.ID()),
				zap.Error(err))
			continue
		}
		reached++
	}
	return reached, nil
}
