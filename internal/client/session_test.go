package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/auth"
	"github.com/pulsemeet/pulse-server/internal/config"
	"github.com/pulsemeet/pulse-server/internal/core"
	"github.com/pulsemeet/pulse-server/internal/proto"
	"github.com/pulsemeet/pulse-server/internal/store/sqlite"
	transporthttp "github.com/pulsemeet/pulse-server/internal/transport/http"
)

type testBackend struct {
	ts *httptest.Server
	st *sqlite.SQLiteStore
}

func (b *testBackend) wsURL() string {
	return strings.Replace(b.ts.URL, "http", "ws", 1) + "/ws"
}

func startBackend(t *testing.T) *testBackend {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	logger := zerolog.Nop()
	hub := core.NewHub(st, st, st, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := transporthttp.NewServer(hub, authService, st, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		HistoryPageSize:   50,
	}, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testBackend{ts: ts, st: st}
}

func (b *testBackend) register(t *testing.T, email, name string) (token, userID string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"email": email, "name": name, "password": "password123"})
	resp, err := b.ts.Client().Post(b.ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return out.Token, out.User.ID
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionDeliverReconnectBackfill(t *testing.T) {
	backend := startBackend(t)

	aliceToken, aliceID := backend.register(t, "alice@example.com", "Alice")
	bobToken, bobID := backend.register(t, "bob@example.com", "Bob")

	room, err := backend.st.GetOrCreateRoom(context.Background(), aliceID, bobID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Bob's view survives across his two sessions: the same view absorbs the
	// realtime pushes and the reconnect backfill.
	view := NewRoomView(room.ID, bobID)
	onMessage := func(ev proto.EventMessage) {
		view.ApplyDurable(Message{
			ID:        ev.ID,
			Room:      ev.Room,
			Sender:    ev.Sender,
			Text:      ev.Text,
			CreatedAt: time.UnixMilli(ev.TS).UTC(),
		}, ev.TempID)
	}

	// Alice needs to know when her sends turn durable, and must not publish
	// before the server has her subscribed.
	aliceEchoes := make(chan proto.EventMessage, 8)
	aliceJoined := make(chan proto.EventJoined, 1)
	alice := NewSession(Config{
		URL:   backend.wsURL(),
		Token: aliceToken,
		Handlers: Handlers{
			OnMessage: func(ev proto.EventMessage) { aliceEchoes <- ev },
			OnJoined:  func(ev proto.EventJoined) { aliceJoined <- ev },
		},
	})
	if err := alice.Join(ctx, room.ID); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	go alice.Run(ctx)
	<-alice.Reconnected
	<-aliceJoined

	bobCtx, bobStop := context.WithCancel(ctx)
	bobJoined := make(chan proto.EventJoined, 1)
	bob := NewSession(Config{
		URL:   backend.wsURL(),
		Token: bobToken,
		Handlers: Handlers{
			OnMessage: onMessage,
			OnJoined:  func(ev proto.EventJoined) { bobJoined <- ev },
		},
	})
	if err := bob.Join(ctx, room.ID); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	go bob.Run(bobCtx)
	<-bob.Reconnected
	<-bobJoined

	// Live delivery while both are connected.
	if err := alice.SendMessage(ctx, room.ID, "first", "tmp-a1"); err != nil {
		t.Fatalf("send first: %v", err)
	}
	waitFor(t, func() bool { return len(view.Messages()) == 1 }, "live delivery of the first message")
	<-aliceEchoes

	// Bob drops. Alice keeps talking; the message lands durably but bob's
	// connection never sees it.
	bobStop()
	waitFor(t, func() bool { return bob.State() == StateDisconnected }, "bob to disconnect")

	if err := alice.SendMessage(ctx, room.ID, "second", "tmp-a2"); err != nil {
		t.Fatalf("send second: %v", err)
	}
	<-aliceEchoes

	if got := len(view.Messages()); got != 1 {
		t.Fatalf("bob saw %d messages while offline, want 1", got)
	}

	// Bob reconnects with a fresh session over the same view, then closes the
	// gap with a bounded fetch from his last durable timestamp.
	bob2Joined := make(chan proto.EventJoined, 1)
	bob2 := NewSession(Config{
		URL:   backend.wsURL(),
		Token: bobToken,
		Handlers: Handlers{
			OnMessage: onMessage,
			OnJoined:  func(ev proto.EventJoined) { bob2Joined <- ev },
		},
	})
	if err := bob2.Join(ctx, room.ID); err != nil {
		t.Fatalf("bob rejoin: %v", err)
	}
	go bob2.Run(ctx)
	<-bob2.Reconnected
	<-bob2Joined

	fetched, err := FetchMessages(ctx, backend.ts.Client(), backend.ts.URL, bobToken, room.ID, view.LastDurable(), 50)
	if err != nil {
		t.Fatalf("backfill fetch: %v", err)
	}
	view.Backfill(fetched)

	msgs := view.Messages()
	if len(msgs) != 2 {
		t.Fatalf("after backfill got %d messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Fatalf("wrong order after backfill: %+v", msgs)
	}

	// Realtime keeps working on the new connection, and redelivered ids stay
	// deduplicated.
	if err := alice.SendMessage(ctx, room.ID, "third", "tmp-a3"); err != nil {
		t.Fatalf("send third: %v", err)
	}
	waitFor(t, func() bool { return len(view.Messages()) == 3 }, "live delivery after reconnect")
}
