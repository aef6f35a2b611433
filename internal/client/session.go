package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/proto"
)

// State is the session's position in the reconnect state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Handlers receives pushed events. Nil fields are ignored.
type Handlers struct {
	OnMessage  func(proto.EventMessage)
	OnTyping   func(proto.EventTyping)
	OnPresence func(proto.EventPresence)
	OnJoined   func(proto.EventJoined)
	OnError    func(proto.Error)
}

// Config configures a Session.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host/ws.
	URL   string
	Token string
	// ReconnectDelay is the pause between reconnect attempts.
	ReconnectDelay time.Duration
	Handlers       Handlers
	Logger         *zerolog.Logger
}

// Session maintains one realtime connection through disconnects. Presence and
// room subscriptions are connection-scoped on the server, so every successful
// reconnect re-issues register and re-joins all tracked rooms; both are
// idempotent. The session never replays missed messages: the caller closes
// gaps with a backfill fetch after each reconnect.
type Session struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	state State
	rooms map[string]struct{}
	conn  *websocket.Conn
	wmu   sync.Mutex // serializes websocket writes

	// Reconnected is signalled (non-blocking) after each successful
	// register+rejoin pass, prompting the owner to backfill.
	Reconnected chan struct{}
}

// NewSession constructs a session; Run must be called to connect.
func NewSession(cfg Config) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "session").Logger()
	}
	return &Session{
		cfg:         cfg,
		log:         logger,
		rooms:       make(map[string]struct{}),
		Reconnected: make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run connects and keeps the session alive until ctx is cancelled. A cancel
// during a connect attempt supersedes it without side effects.
func (s *Session) Run(ctx context.Context) {
	for {
		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Debug().Err(err).Msg("session disconnected")
		}
		s.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.setState(StateConnecting)

	conn, _, err := websocket.Dial(ctx, s.cfg.URL+"?token="+s.cfg.Token, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	// Presence is connection-scoped: a fresh register is required on every
	// transport reset, as is re-joining every room of interest.
	if err := s.write(ctx, proto.Inbound{Type: proto.InboundTypeRegister}); err != nil {
		return err
	}
	s.setState(StateRegistered)

	for _, room := range rooms {
		if err := s.writeRoom(ctx, proto.InboundTypeJoin, room); err != nil {
			return err
		}
	}

	select {
	case s.Reconnected <- struct{}{}:
	default:
	}

	return s.readLoop(ctx, conn)
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return err
		}
		s.dispatch(out)
	}
}

func (s *Session) dispatch(out proto.Outbound) {
	h := s.cfg.Handlers

	if out.Type == proto.OutboundTypeError {
		if out.Error != nil && h.OnError != nil {
			h.OnError(*out.Error)
		}
		return
	}

	raw, err := json.Marshal(out.Data)
	if err != nil {
		return
	}

	switch out.Event {
	case proto.EventNameMessage:
		var ev proto.EventMessage
		if json.Unmarshal(raw, &ev) == nil && h.OnMessage != nil {
			h.OnMessage(ev)
		}
	case proto.EventNameTyping:
		var ev proto.EventTyping
		if json.Unmarshal(raw, &ev) == nil && h.OnTyping != nil {
			h.OnTyping(ev)
		}
	case proto.EventNamePresence:
		var ev proto.EventPresence
		if json.Unmarshal(raw, &ev) == nil && h.OnPresence != nil {
			h.OnPresence(ev)
		}
	case proto.EventNameJoined:
		var ev proto.EventJoined
		if json.Unmarshal(raw, &ev) == nil && h.OnJoined != nil {
			h.OnJoined(ev)
		}
	}
}

// Join tracks the room for this and every future connection, and subscribes
// immediately when connected.
func (s *Session) Join(ctx context.Context, roomID string) error {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	connected := s.state == StateRegistered
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.writeRoom(ctx, proto.InboundTypeJoin, roomID)
}

// Leave stops tracking the room and unsubscribes when connected.
func (s *Session) Leave(ctx context.Context, roomID string) error {
	s.mu.Lock()
	delete(s.rooms, roomID)
	connected := s.state == StateRegistered
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.writeRoom(ctx, proto.InboundTypeLeave, roomID)
}

// SendMessage publishes a message with the given optimistic temp id.
func (s *Session) SendMessage(ctx context.Context, roomID, text, tempID string) error {
	data, err := json.Marshal(proto.MsgData{Room: roomID, Text: text, TempID: tempID})
	if err != nil {
		return err
	}
	return s.write(ctx, proto.Inbound{Type: proto.InboundTypeMsg, Data: data})
}

// SendTyping emits a best-effort typing signal.
func (s *Session) SendTyping(ctx context.Context, roomID string) error {
	return s.writeRoom(ctx, proto.InboundTypeTyping, roomID)
}

func (s *Session) writeRoom(ctx context.Context, msgType, roomID string) error {
	data, err := json.Marshal(proto.RoomData{Room: roomID})
	if err != nil {
		return err
	}
	return s.write(ctx, proto.Inbound{Type: msgType, Data: data})
}

func (s *Session) write(ctx context.Context, in proto.Inbound) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	return wsjson.Write(ctx, conn, in)
}
