package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulsemeet/pulse-server/internal/store"
	"github.com/pulsemeet/pulse-server/internal/utils"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event: %+v", ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// fakeMembership serves rooms and block state from memory.
type fakeMembership struct {
	mu      sync.Mutex
	rooms   map[string]*store.Room
	blocked map[[2]string]bool
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		rooms:   make(map[string]*store.Room),
		blocked: make(map[[2]string]bool),
	}
}

func (f *fakeMembership) addRoom(id, a, b string) *store.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b < a {
		a, b = b, a
	}
	room := &store.Room{ID: id, UserA: a, UserB: b, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.rooms[id] = room
	return room
}

func (f *fakeMembership) GetOrCreateRoom(_ context.Context, a, b string) (*store.Room, error) {
	return f.addRoom(utils.NewUUID(), a, b), nil
}

func (f *fakeMembership) RoomByID(_ context.Context, id string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return room, nil
}

func (f *fakeMembership) RoomsFor(_ context.Context, userID string) ([]*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Room
	for _, r := range f.rooms {
		if r.HasParticipant(userID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeMembership) RoomSummaries(context.Context, string, int) ([]*store.RoomSummary, error) {
	return nil, nil
}

func (f *fakeMembership) IsBlocked(_ context.Context, a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[[2]string{a, b}] || f.blocked[[2]string{b, a}], nil
}

func (f *fakeMembership) Block(_ context.Context, blockerID, blockedID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[[2]string{blockerID, blockedID}] = true
	return nil
}

func (f *fakeMembership) Unblock(_ context.Context, blockerID, blockedID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocked, [2]string{blockerID, blockedID})
	return nil
}

func (f *fakeMembership) ListBlocked(context.Context, string) ([]*store.User, error) {
	return nil, nil
}

func (f *fakeMembership) ReportUser(context.Context, string, string, string, string) (*store.Report, error) {
	return nil, nil
}

// fakeMessages appends to memory; failNext makes the next append fail.
type fakeMessages struct {
	mu       sync.Mutex
	appended []*store.Message
	failNext bool
}

func (f *fakeMessages) Append(_ context.Context, roomID, senderID, content, clientTempID string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("disk full")
	}
	msg := &store.Message{
		ID:           utils.NewUUID(),
		RoomID:       roomID,
		SenderID:     senderID,
		Content:      content,
		ClientTempID: clientTempID,
		CreatedAt:    time.Now(),
	}
	f.appended = append(f.appended, msg)
	return msg, nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

func (f *fakeMessages) Range(context.Context, string, time.Time, int) ([]*store.Message, error) {
	return nil, nil
}

func (f *fakeMessages) ListBefore(context.Context, string, string, int) ([]*store.Message, error) {
	return nil, nil
}

func (f *fakeMessages) MarkRead(context.Context, string, string) error { return nil }

func (f *fakeMessages) UnreadCount(context.Context, string, string) (int, error) { return 0, nil }

// fakeUsers records presence writes. holdOffline, when set, stalls offline
// writes until the channel is closed; failWrites makes every write error
// after being counted.
type fakeUsers struct {
	mu          sync.Mutex
	online      map[string]bool
	holdOffline chan struct{}
	failWrites  bool
	writes      int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{online: make(map[string]bool)}
}

func (f *fakeUsers) SetPresence(_ context.Context, id string, online bool) error {
	f.mu.Lock()
	hold := f.holdOffline
	f.mu.Unlock()
	if !online && hold != nil {
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWrites {
		return errors.New("presence store down")
	}
	f.online[id] = online
	return nil
}

func (f *fakeUsers) stallOffline(hold chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdOffline = hold
}

func (f *fakeUsers) failAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = true
}

func (f *fakeUsers) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeUsers) presence(id string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.online[id]
	return v, ok
}

func (f *fakeUsers) CreateUser(context.Context, string, string, string) (*store.User, error) {
	return nil, store.ErrAlreadyExists
}

func (f *fakeUsers) GetUserByID(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (f *fakeUsers) GetUserByEmail(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (f *fakeUsers) UpdateProfile(context.Context, *store.User) error { return nil }

func (f *fakeUsers) NearbyUsers(context.Context, string, float64, int) ([]*store.NearbyUser, error) {
	return nil, nil
}

func waitOnline(t *testing.T, hub *Hub, userID string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.IsOnline(userID) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s never came online", userID)
}

// registerAndJoin drives a client through register and a checked join.
func registerAndJoin(t *testing.T, hub *Hub, c *Client, roomID string) {
	t.Helper()

	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandRegister}
	c.Commands <- &Command{Kind: CommandJoinRoom, Room: roomID}
	ev := mustEvent(t, c.Events, EventJoined)
	if ev.Room != roomID {
		t.Fatalf("joined wrong room: %+v", ev)
	}
}
