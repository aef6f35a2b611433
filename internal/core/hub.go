package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/store"
)

const (
	// storeTimeout bounds every call into the external stores.
	storeTimeout = 5 * time.Second
	// lastSeenInterval is how often last_seen is refreshed for online users.
	lastSeenInterval = 30 * time.Second
)

// Hub owns all live realtime state: the connection registry and the room
// subscription index. A single run loop serializes every mutation; the only
// suspension points are the calls into the external stores, which run on
// their own goroutines and report back as tasks.
type Hub struct {
	messages   store.MessageStore
	membership store.MembershipStore
	users      store.UserStore

	registry *Registry
	index    *roomIndex
	clients  map[*Client]struct{}

	// presenceGate chains the async presence resolutions per user so a fast
	// reconnect can never overtake the preceding offline transition.
	presenceGate map[string]chan struct{}

	tasks chan task
	// stopped is closed when Run returns; pumps of still-attached clients
	// select on it so a stopped hub releases them.
	stopped chan struct{}
	log     zerolog.Logger

	// runCtx is the context passed to Run; async store calls derive from it.
	runCtx context.Context
}

// task is the closed set of things the run loop processes.
type task struct {
	kind taskKind

	client *Client
	cmd    *Command

	// join check result
	room     *store.Room
	denyCode string

	// append result
	msg    *store.Message
	tempID string
	err    error
	// presence notification
	userID   string
	online   bool
	lastSeen time.Time
	peers    []string
	gate     chan struct{}
}

type taskKind int

const (
	taskRegisterClient taskKind = iota
	taskUnregisterClient
	taskCommand
	taskJoinChecked
	taskAppended
	taskAppendFailed
	taskPresence
)

// NewHub constructs a hub over the external store collaborators. users may be
// nil, in which case presence is not persisted (tests).
func NewHub(messages store.MessageStore, membership store.MembershipStore, users store.UserStore, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		messages:     messages,
		membership:   membership,
		users:        users,
		registry:     NewRegistry(),
		index:        newRoomIndex(),
		clients:      make(map[*Client]struct{}),
		presenceGate: make(map[string]chan struct{}),
		tasks:        make(chan task, 64),
		stopped:      make(chan struct{}),
		log:          logger.With().Str("component", "hub").Logger(),
	}
}

// Registry exposes presence reads to other layers.
func (h *Hub) Registry() *Registry { return h.registry }

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool { return h.registry.IsOnline(userID) }

// RegisterClient attaches a connection to the hub and starts consuming its
// commands. Presence is not announced until the client issues a register
// command.
func (h *Hub) RegisterClient(c *Client) {
	h.tasks <- task{kind: taskRegisterClient, client: c}
}

// UnregisterClient detaches a connection, atomically dropping its presence
// binding and every room subscription it held.
func (h *Hub) UnregisterClient(c *Client) {
	h.tasks <- task{kind: taskUnregisterClient, client: c}
}

// Run processes tasks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.runCtx = ctx
	defer close(h.stopped)

	ticker := time.NewTicker(lastSeenInterval)
	defer ticker.Stop()

	for {
		select {
		case t := <-h.tasks:
			h.handle(t)
		case <-ticker.C:
			h.refreshLastSeen()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(t task) {
	switch t.kind {
	case taskRegisterClient:
		h.clients[t.client] = struct{}{}
		go h.pump(t.client)
	case taskUnregisterClient:
		h.dropClient(t.client)
	case taskCommand:
		h.handleCommand(t.client, t.cmd)
	case taskJoinChecked:
		h.finishJoin(t)
	case taskAppended:
		h.fanOut(t.msg)
	case taskAppendFailed:
		h.reportSendFailure(t.client, t.cmd.Room, t.tempID, t.err)
	case taskPresence:
		h.notifyPresence(t)
	}
}

// pump forwards a client's commands into the run loop until the connection
// is dropped.
func (h *Hub) pump(c *Client) {
	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			select {
			case h.tasks <- task{kind: taskCommand, client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.stopped:
				return
			}
		case <-c.done:
			return
		case <-h.stopped:
			return
		}
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if _, attached := h.clients[c]; !attached {
		return
	}

	switch cmd.Kind {
	case CommandRegister:
		h.register(c)
	case CommandJoinRoom:
		h.join(c, cmd.Room)
	case CommandLeaveRoom:
		h.index.leave(c, cmd.Room)
	case CommandSendMessage:
		h.publish(c, cmd)
	case CommandTyping:
		h.typing(c, cmd.Room)
	}
}

// register binds the connection to its user for presence purposes. Idempotent
// per connection: reconnecting clients re-issue it every time.
func (h *Hub) register(c *Client) {
	if c.registered {
		return
	}
	c.registered = true
	if first := h.registry.Add(c); first {
		h.presenceChanged(c.UserID, true, time.Time{})
	}
}

func (h *Hub) dropClient(c *Client) {
	if _, attached := h.clients[c]; !attached {
		return
	}
	delete(h.clients, c)
	close(c.done)

	h.index.dropClient(c)
	if !c.registered {
		return
	}
	if last := h.registry.Remove(c); last {
		h.presenceChanged(c.UserID, false, h.registry.LastSeen(c.UserID))
	}
}

// presenceChanged persists the durable presence flags and resolves the set of
// interested peers (the user's direct chat counterparts) off the run loop.
// Resolutions for the same user are chained: each goroutine waits for the
// previous transition to finish, so the store write and the peer broadcast
// always happen in transition order even across a rapid offline/online flap.
func (h *Hub) presenceChanged(userID string, online bool, lastSeen time.Time) {
	prev := h.presenceGate[userID]
	done := make(chan struct{})
	h.presenceGate[userID] = done

	go func() {
		defer close(done)

		if prev != nil {
			select {
			case <-prev:
			case <-h.baseCtx().Done():
				return
			}
		}

		ctx, cancel := context.WithTimeout(h.baseCtx(), storeTimeout)
		defer cancel()

		if h.users != nil {
			if err := h.users.SetPresence(ctx, userID, online); err != nil {
				h.log.Warn().Err(err).Str("user_id", userID).Msg("persist presence")
			}
		}

		var peers []string
		if h.membership != nil {
			rooms, err := h.membership.RoomsFor(ctx, userID)
			if err != nil {
				h.log.Warn().Err(err).Str("user_id", userID).Msg("resolve presence peers")
			}
			for _, r := range rooms {
				if peer := r.Counterpart(userID); peer != "" {
					peers = append(peers, peer)
				}
			}
		}

		select {
		case h.tasks <- task{kind: taskPresence, userID: userID, online: online, lastSeen: lastSeen, peers: peers, gate: done}:
		case <-h.baseCtx().Done():
		}
	}()
}

func (h *Hub) notifyPresence(t task) {
	// Drop the chain entry once the latest transition has been delivered.
	if h.presenceGate[t.userID] == t.gate {
		delete(h.presenceGate, t.userID)
	}
	ev := &Event{Kind: EventPresence, User: t.userID, Online: t.online, LastSeen: t.lastSeen}
	for _, peer := range t.peers {
		for _, conn := range h.registry.ConnectionsOf(peer) {
			conn.send(ev)
		}
	}
}

// join checks permissions against the membership store, then subscribes the
// connection. Block state is read at join time on purpose: a block applied
// mid-session takes effect on the next join.
func (h *Hub) join(c *Client, roomID string) {
	if !c.registered {
		c.send(&Event{Kind: EventError, Room: roomID, Error: coreError(ErrCodeNotRegistered, "register before joining rooms")})
		return
	}
	if c.inRoom(roomID) {
		// Idempotent: re-ack without touching the index.
		c.send(&Event{Kind: EventJoined, Room: roomID})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(h.baseCtx(), storeTimeout)
		defer cancel()

		t := task{kind: taskJoinChecked, client: c, cmd: &Command{Kind: CommandJoinRoom, Room: roomID}}

		room, err := h.membership.RoomByID(ctx, roomID)
		switch {
		case err != nil:
			t.denyCode = ErrCodeRoomNotFound
		case !room.HasParticipant(c.UserID):
			t.denyCode = ErrCodeJoinDenied
		default:
			blocked, berr := h.membership.IsBlocked(ctx, room.UserA, room.UserB)
			if berr != nil || blocked {
				// Fail closed when block state cannot be read.
				t.denyCode = ErrCodeJoinDenied
			} else {
				t.room = room
			}
		}

		select {
		case h.tasks <- t:
		case <-h.baseCtx().Done():
		}
	}()
}

func (h *Hub) finishJoin(t task) {
	c := t.client
	if _, attached := h.clients[c]; !attached {
		return
	}
	if t.denyCode != "" {
		h.log.Debug().Str("user_id", c.UserID).Str("room_id", t.cmd.Room).Str("code", t.denyCode).Msg("join denied")
		c.send(&Event{Kind: EventError, Room: t.cmd.Room, Error: coreError(t.denyCode, "cannot join room")})
		return
	}
	h.index.join(c, t.room.ID)
	c.send(&Event{Kind: EventJoined, Room: t.room.ID})
}

// publish is the fan-out path. The durable append happens off the run loop;
// fan-out uses the subscriber snapshot taken when the append completes, so
// per-room delivery order is persistence completion order.
func (h *Hub) publish(c *Client, cmd *Command) {
	if !c.inRoom(cmd.Room) {
		// Spoofed or stale room id. Dropped, never forwarded.
		h.log.Warn().Str("user_id", c.UserID).Str("room_id", cmd.Room).Msg("message from non-subscriber dropped")
		return
	}
	if cmd.Content == "" {
		c.send(&Event{Kind: EventError, Room: cmd.Room, Error: coreError(ErrCodeBadRequest, "empty message")})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(h.baseCtx(), storeTimeout)
		defer cancel()

		msg, err := h.messages.Append(ctx, cmd.Room, c.UserID, cmd.Content, cmd.TempID)
		t := task{client: c, cmd: cmd, tempID: cmd.TempID}
		if err != nil {
			t.kind = taskAppendFailed
			t.err = err
		} else {
			t.kind = taskAppended
			t.msg = msg
		}

		select {
		case h.tasks <- t:
		case <-h.baseCtx().Done():
		}
	}()
}

// fanOut delivers a durable envelope to every connection currently subscribed
// to the room, the sender's own connections included: the sender substitutes
// its optimistic copy via the round-tripped temp id. The temp id is private to
// the sender, so the copy sent to everyone else has it stripped.
func (h *Hub) fanOut(msg *store.Message) {
	senderEv := &Event{Kind: EventMessage, Room: msg.RoomID, Message: msg}

	peerMsg := *msg
	peerMsg.ClientTempID = ""
	peerEv := &Event{Kind: EventMessage, Room: msg.RoomID, Message: &peerMsg}

	for _, sub := range h.index.subscribers(msg.RoomID) {
		if sub.UserID == msg.SenderID {
			sub.send(senderEv)
		} else {
			sub.send(peerEv)
		}
	}
}

// reportSendFailure tells the sender, and only the sender, that the append
// failed. Nothing was fanned out; retry is the client's responsibility.
func (h *Hub) reportSendFailure(c *Client, roomID, tempID string, err error) {
	h.log.Error().Err(err).Str("room_id", roomID).Str("user_id", c.UserID).Msg("message append failed")
	if _, attached := h.clients[c]; !attached {
		return
	}
	c.send(&Event{Kind: EventError, Room: roomID, Error: &CoreError{
		Code:    ErrCodeSendFailed,
		Message: "message was not saved",
		Room:    roomID,
		TempID:  tempID,
	}})
}

// typing broadcasts an ephemeral signal to room subscribers except the
// sender's own connections. Best effort, never persisted.
func (h *Hub) typing(c *Client, roomID string) {
	if !c.inRoom(roomID) {
		return
	}
	ev := &Event{Kind: EventTyping, Room: roomID, User: c.UserID}
	for _, sub := range h.index.subscribers(roomID) {
		if sub.UserID == c.UserID {
			continue
		}
		sub.send(ev)
	}
}

// refreshLastSeen periodically advances last_seen for every online user.
func (h *Hub) refreshLastSeen() {
	if h.users == nil {
		return
	}
	online := h.registry.Online()
	if len(online) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(h.baseCtx(), storeTimeout)
		defer cancel()
		for _, userID := range online {
			if err := h.users.SetPresence(ctx, userID, true); err != nil {
				// One failing user must not starve the rest of the tick.
				h.log.Warn().Err(err).Str("user_id", userID).Msg("refresh last_seen")
				continue
			}
		}
	}()
}

func (h *Hub) baseCtx() context.Context {
	if h.runCtx != nil {
		return h.runCtx
	}
	return context.Background()
}
