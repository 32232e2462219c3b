package server

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/lanrelay/internal/ids"
	"github.com/Tyrowin/lanrelay/internal/protocol"
)

// Room manager errors.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("client is not in a room")
	ErrTooManyRooms = errors.New("too many rooms")
	ErrRoomFull     = errors.New("room is full")
)

// Room is a read-only view of a room.
type Room struct {
	ID        string
	Name      string
	Members   []string
	CreatedAt time.Time
	CreatedBy string
}

type room struct {
	id        string
	name      string
	members   []string
	createdAt time.Time
	createdBy string
}

func (r *room) view() Room {
	return Room{
		ID:        r.id,
		Name:      r.name,
		Members:   slices.Clone(r.members),
		CreatedAt: r.createdAt,
		CreatedBy: r.createdBy,
	}
}

func (r *room) remove(clientID string) {
	r.members = slices.DeleteFunc(r.members, func(id string) bool { return id == clientID })
}

// delivery is a message to hand out after the room lock is released.
type delivery struct {
	to  []string
	msg protocol.Message
}

// RoomManager owns rooms and room membership. A room exists exactly while
// it has members: it is created by the first join (or by Create) and
// deleted when its last member leaves. Each client is in at most one room.
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	memberOf map[string]string
	registry *Registry
	limits   Limits
	now      func() time.Time
	newID    func(time.Time) string
	logger   *slog.Logger
}

// NewRoomManager returns a manager that delivers room events through
// registry.
func NewRoomManager(registry *Registry, limits Limits, logger *slog.Logger) *RoomManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomManager{
		rooms:    make(map[string]*room),
		memberOf: make(map[string]string),
		registry: registry,
		limits:   limits,
		now:      time.Now,
		newID:    ids.NewRoomID,
		logger:   logger,
	}
}

// Create makes a new room with clientID as its only member and returns it.
// An empty name gets a generated one. If the client was in another room it
// leaves that room first.
func (m *RoomManager) Create(clientID, name string) (Room, error) {
	if _, ok := m.registry.Lookup(clientID); !ok {
		return Room{}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	m.mu.Lock()
	if m.limits.MaxRooms > 0 && m.roomsAfterLeave(clientID) >= m.limits.MaxRooms {
		m.mu.Unlock()
		return Room{}, fmt.Errorf("%w: limit %d", ErrTooManyRooms, m.limits.MaxRooms)
	}

	var out []delivery
	if d, ok := m.leaveLocked(clientID); ok {
		out = append(out, d...)
	}

	now := m.now()
	id := m.newID(now)
	for {
		if _, taken := m.rooms[id]; !taken {
			break
		}
		id = m.newID(now)
	}
	if name == "" {
		name = "Room " + id
	}

	r := &room{id: id, name: name, members: []string{clientID}, createdAt: now, createdBy: clientID}
	m.rooms[id] = r
	m.memberOf[clientID] = id
	view := r.view()
	roomCount := len(m.rooms)
	m.mu.Unlock()

	m.deliver(out)
	m.logger.Info("room created", "room_id", id, "name", name, "client_id", clientID, "rooms", roomCount)
	return view, nil
}

// Join moves clientID into roomID, creating the room if it does not exist.
// Existing members receive client-joined with the new member list; the
// joining client receives room-joined listing everyone but itself.
func (m *RoomManager) Join(clientID, roomID string) error {
	if _, ok := m.registry.Lookup(clientID); !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	m.mu.Lock()
	var out []delivery

	if current, ok := m.memberOf[clientID]; ok && current == roomID {
		r := m.rooms[roomID]
		out = append(out, delivery{
			to:  []string{clientID},
			msg: &protocol.RoomJoined{RoomID: roomID, Clients: without(r.members, clientID)},
		})
		m.mu.Unlock()
		m.deliver(out)
		return nil
	}

	r, exists := m.rooms[roomID]
	switch {
	case !exists && m.limits.MaxRooms > 0 && m.roomsAfterLeave(clientID) >= m.limits.MaxRooms:
		m.mu.Unlock()
		return fmt.Errorf("%w: limit %d", ErrTooManyRooms, m.limits.MaxRooms)
	case exists && m.limits.MaxRoomMembers > 0 && len(r.members) >= m.limits.MaxRoomMembers:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomFull, roomID)
	}

	if d, ok := m.leaveLocked(clientID); ok {
		out = append(out, d...)
	}

	if !exists {
		r = &room{id: roomID, createdAt: m.now(), createdBy: clientID}
		m.rooms[roomID] = r
		m.logger.Info("room created on join", "room_id", roomID, "client_id", clientID)
	}
	r.members = append(r.members, clientID)
	m.memberOf[clientID] = roomID
	members := slices.Clone(r.members)

	others := without(members, clientID)
	if len(others) > 0 {
		out = append(out, delivery{
			to:  others,
			msg: &protocol.ClientJoined{ClientID: clientID, RoomClients: members},
		})
	}
	out = append(out, delivery{
		to:  []string{clientID},
		msg: &protocol.RoomJoined{RoomID: roomID, Clients: others},
	})
	m.mu.Unlock()

	m.deliver(out)
	m.logger.Info("client joined room", "room_id", roomID, "client_id", clientID, "members", len(members))
	return nil
}

// Leave removes clientID from its room. It returns the room left and
// whether the client was in one.
func (m *RoomManager) Leave(clientID string) (string, bool) {
	m.mu.Lock()
	roomID := m.memberOf[clientID]
	out, ok := m.leaveLocked(clientID)
	m.mu.Unlock()

	if ok {
		m.deliver(out)
	}
	return roomID, ok
}

// roomsAfterLeave counts the rooms that remain once clientID leaves its
// current room. Callers hold m.mu.
func (m *RoomManager) roomsAfterLeave(clientID string) int {
	n := len(m.rooms)
	if r, ok := m.rooms[m.memberOf[clientID]]; ok && len(r.members) == 1 {
		n--
	}
	return n
}

// leaveLocked removes clientID from its room and returns the client-left
// notification for the remaining members. The room is deleted when the
// last member leaves. Callers hold m.mu.
func (m *RoomManager) leaveLocked(clientID string) ([]delivery, bool) {
	roomID, ok := m.memberOf[clientID]
	if !ok {
		return nil, false
	}
	delete(m.memberOf, clientID)

	r, exists := m.rooms[roomID]
	if !exists {
		return nil, true
	}
	r.remove(clientID)

	if len(r.members) == 0 {
		delete(m.rooms, roomID)
		m.logger.Info("room deleted", "room_id", roomID, "rooms", len(m.rooms))
		return nil, true
	}

	m.logger.Info("client left room", "room_id", roomID, "client_id", clientID, "members", len(r.members))
	members := slices.Clone(r.members)
	return []delivery{{
		to:  members,
		msg: &protocol.ClientLeft{ClientID: clientID, RoomClients: members},
	}}, true
}

// Broadcast sends msg to every member of roomID except excludeID and
// returns how many members it was queued for. Members are visited in join
// order.
func (m *RoomManager) Broadcast(roomID string, msg protocol.Message, excludeID string) (int, error) {
	m.mu.RLock()
	r, ok := m.rooms[roomID]
	var targets []string
	if ok {
		targets = without(r.members, excludeID)
	}
	m.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return m.sendAll(targets, msg), nil
}

// RoomOf returns the room clientID is in.
func (m *RoomManager) RoomOf(clientID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.memberOf[clientID]
	return id, ok
}

// Members returns the members of roomID in join order.
func (m *RoomManager) Members(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rooms[roomID]; ok {
		return slices.Clone(r.members)
	}
	return nil
}

// Get returns a view of roomID.
func (m *RoomManager) Get(roomID string) (Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return r.view(), true
}

// Len returns the number of rooms.
func (m *RoomManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) deliver(out []delivery) {
	for _, d := range out {
		m.sendAll(d.to, d.msg)
	}
}

func (m *RoomManager) sendAll(to []string, msg protocol.Message) int {
	if len(to) == 0 {
		return 0
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		m.logger.Error("encoding room message", "kind", msg.Kind(), "error", err)
		return 0
	}
	sent := 0
	for _, id := range to {
		if m.registry.SendRaw(id, data) {
			sent++
		}
	}
	return sent
}

func without(members []string, exclude string) []string {
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
