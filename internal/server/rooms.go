package server

import (
	"strings"
	"sync"
)

const (
	userRoomPrefix  = "user:"
	matchRoomPrefix = "match:"
)

func userRoom(userId string) string {
	return userRoomPrefix + userId
}

func matchRoom(matchId string) string {
	return matchRoomPrefix + matchId
}

func matchIdFromRoom(room string) (string, bool) {
	return strings.CutPrefix(room, matchRoomPrefix)
}

// roomTable maps room names to the clients joined to them. Each client
// mirrors its own memberships; the table lock is always taken before a
// client's rooms lock.
type roomTable struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func newRoomTable() *roomTable {
	return &roomTable{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// join adds c to room and reports whether the room was created.
func (t *roomTable) join(room string, c *Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		t.rooms[room] = members
	}

	members[c] = struct{}{}
	c.addRoom(room)

	return !ok
}

// leave removes c from room and reports whether c was a member and
// whether the room is now empty.
func (t *roomTable) leave(room string, c *Client) (left, emptied bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[room]
	if !ok {
		return false, false
	}

	if _, ok := members[c]; !ok {
		return false, false
	}

	delete(members, c)
	c.delRoom(room)

	if len(members) == 0 {
		delete(t.rooms, room)
		return true, true
	}

	return true, false
}

// drop removes the room entirely and returns its former members.
func (t *roomTable) drop(room string) []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[room]
	if !ok {
		return nil
	}

	clients := make([]*Client, 0, len(members))
	for c := range members {
		c.delRoom(room)
		clients = append(clients, c)
	}
	delete(t.rooms, room)

	return clients
}

func (t *roomTable) members(room string) []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.rooms[room]
	clients := make([]*Client, 0, len(members))
	for c := range members {
		clients = append(clients, c)
	}

	return clients
}

func (t *roomTable) contains(room string, c *Client) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.rooms[room][c]
	return ok
}

// hasUser reports whether any connection of userId is in room.
func (t *roomTable) hasUser(room, userId string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for c := range t.rooms[room] {
		if c.UserId() == userId {
			return true
		}
	}

	return false
}

func (t *roomTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.rooms)
}
