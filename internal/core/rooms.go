package core

// roomIndex tracks which connections are currently subscribed to each room.
// It caches nothing durable: the room itself is owned by the membership
// store, and the index is rebuilt naturally as clients rejoin after a
// restart. Owned by the hub run loop, not safe for concurrent use.
type roomIndex struct {
	subs map[string]map[*Client]struct{}
}

func newRoomIndex() *roomIndex {
	return &roomIndex{subs: make(map[string]map[*Client]struct{})}
}

// join adds the connection as a live subscriber. Returns true if newly added.
func (ri *roomIndex) join(c *Client, roomID string) bool {
	room, ok := ri.subs[roomID]
	if !ok {
		room = make(map[*Client]struct{})
		ri.subs[roomID] = room
	}
	if _, exists := room[c]; exists {
		return false
	}
	room[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
	return true
}

// leave removes the connection from the room. Idempotent.
func (ri *roomIndex) leave(c *Client, roomID string) {
	delete(c.rooms, roomID)
	room, ok := ri.subs[roomID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(ri.subs, roomID)
	}
}

// dropClient removes the connection from every room it subscribed to, so a
// closed connection is never left half-closed with stale subscriptions.
func (ri *roomIndex) dropClient(c *Client) {
	for roomID := range c.rooms {
		ri.leave(c, roomID)
	}
}

// subscribers returns a snapshot of the room's live subscribers.
func (ri *roomIndex) subscribers(roomID string) []*Client {
	room := ri.subs[roomID]
	out := make([]*Client, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}
