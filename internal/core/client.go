package core

import "time"

// Client is one live transport connection as seen by the core layer. A single
// user may own several clients at once (multi-tab, multi-device).
type Client struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Commands  chan *Command
	Events    chan *Event

	// Owned by the hub run loop; never touched from other goroutines.
	registered bool
	rooms      map[string]struct{}
	done       chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id, userID string) *Client {
	return &Client{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now(),
		Commands:  make(chan *Command, 8),
		Events:    make(chan *Event, 8),
		rooms:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

func (c *Client) inRoom(roomID string) bool {
	_, ok := c.rooms[roomID]
	return ok
}

// send delivers an event without blocking. Slow consumers lose events; the
// reconciliation fetch closes any resulting gap.
func (c *Client) send(ev *Event) {
	select {
	case c.Events <- ev:
	default:
	}
}
