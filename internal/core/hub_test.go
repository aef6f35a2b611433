package core

import (
	"context"
	"testing"
	"time"
)

func TestHubMessageDeliveredToBothParties(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	membership := newFakeMembership()
	messages := &fakeMessages{}
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(messages, membership, nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	registerAndJoin(t, hub, alice, room.ID)
	registerAndJoin(t, hub, bob, room.ID)

	alice.Commands <- &Command{Kind: CommandSendMessage, Room: room.ID, Content: "hi", TempID: "tmp-1"}

	// Recipient gets the durable envelope.
	msgEv := mustEvent(t, bob.Events, EventMessage)
	if msgEv.Message.Content != "hi" || msgEv.Message.RoomID != room.ID || msgEv.Message.SenderID != "alice" {
		t.Fatalf("unexpected message event: %+v", msgEv.Message)
	}
	if msgEv.Message.ID == "" {
		t.Fatal("message delivered without durable id")
	}
	if msgEv.Message.ClientTempID != "" {
		t.Fatalf("sender's temp id leaked to the recipient: %+v", msgEv.Message)
	}

	// Sender gets its own copy with the temp id round-tripped.
	selfEv := mustEvent(t, alice.Events, EventMessage)
	if selfEv.Message.ClientTempID != "tmp-1" {
		t.Fatalf("temp id not echoed to sender: %+v", selfEv.Message)
	}
}

func TestHubJoinRequiresRegister(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	membership := newFakeMembership()
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(&fakeMessages{}, membership, nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: room.ID}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotRegistered {
		t.Fatalf("expected not_registered error, got %+v", ev)
	}
}

func TestHubJoinIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	membership := newFakeMembership()
	messages := &fakeMessages{}
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(messages, membership, nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	registerAndJoin(t, hub, alice, room.ID)
	registerAndJoin(t, hub, bob, room.ID)

	// Re-join must ack again without erroring.
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: room.ID}
	ack := mustEvent(t, bob.Events, EventJoined)
	if ack.Room != room.ID {
		t.Fatalf("unexpected re-ack: %+v", ack)
	}

	// And the subscription stays single: one message, one delivery.
	alice.Commands <- &Command{Kind: CommandSendMessage, Room: room.ID, Content: "once"}
	mustEvent(t, bob.Events, EventMessage)
	mustNoEvent(t, bob.Events, EventMessage)
}

func TestHubJoinDeniedForNonParticipant(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	membership := newFakeMembership()
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(&fakeMessages{}, membership, nil, nil)
	go hub.Run(ctx)

	mallory := NewClient("m", "mallory")
	hub.RegisterClient(mallory)
	mallory.Commands <- &Command{Kind: CommandRegister}
	mallory.Commands <- &Command{Kind: CommandJoinRoom, Room: room.ID}

	ev := mustEvent(t, mallory.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeJoinDenied {
		t.Fatalf("expected join_denied error, got %+v", ev)
	}
}

func TestHubJoinDeniedWhenBlocked(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	membership := newFakeMembership()
	room := membership.addRoom("r1", "alice", "bob")
	if err := membership.Block(ctx, "bob", "alice"); err != nil {
		t.Fatalf("block: %v", err)
	}

	hub := NewHub(&fakeMessages{}, membership, nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandRegister}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: room.ID}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeJoinDenied {
		t.Fatalf("expected join_denied error, got %+v", ev)
	}
}

func TestHubJoinUnknownRoom(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hub := NewHub(&fakeMessages{}, newFakeMembership(), nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandRegister}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "ghost"}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeRoomNotFound {
		t.Fatalf("expected room_not_found error, got %+v", ev)
	}
}

func TestHubAppendFailureNotifiesSenderOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	membership := newFakeMembership()
	messages := &fakeMessages{failNext: true}
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(messages, membership, nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	registerAndJoin(t, hub, alice, room.ID)
	registerAndJoin(t, hub, bob, room.ID)

	alice.Commands <- &Command{Kind: CommandSendMessage, Room: room.ID, Content: "doomed", TempID: "tmp-9"}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeSendFailed {
		t.Fatalf("expected send_failed error, got %+v", ev)
	}
	if ev.Error.TempID != "tmp-9" {
		t.Fatalf("temp id missing from failure: %+v", ev.Error)
	}

	// Nothing durable, nothing fanned out.
	if messages.count() != 0 {
		t.Fatalf("append count = %d, want 0", messages.count())
	}
	mustNoEvent(t, bob.Events, EventMessage)
}

func TestHubDropsMessageFromNonSubscriber(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	membership := newFakeMembership()
	messages := &fakeMessages{}
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(messages, membership, nil, nil)
	go hub.Run(ctx)

	bob := NewClient("b", "bob")
	registerAndJoin(t, hub, bob, room.ID)

	// Registered but never joined: the publish is dropped without an error
	// event and without persistence.
	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandRegister}
	alice.Commands <- &Command{Kind: CommandSendMessage, Room: room.ID, Content: "spoofed"}

	mustNoEvent(t, bob.Events, EventMessage)
	mustNoEvent(t, alice.Events, EventError)
	if messages.count() != 0 {
		t.Fatalf("append count = %d, want 0", messages.count())
	}
}

func TestHubEmptyMessageRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	membership := newFakeMembership()
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(&fakeMessages{}, membership, nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	registerAndJoin(t, hub, alice, room.ID)

	alice.Commands <- &Command{Kind: CommandSendMessage, Room: room.ID, Content: ""}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", ev)
	}
}

func TestHubTypingExcludesSenderConnections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	membership := newFakeMembership()
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(&fakeMessages{}, membership, nil, nil)
	go hub.Run(ctx)

	aliceTab1 := NewClient("a1", "alice")
	aliceTab2 := NewClient("a2", "alice")
	bob := NewClient("b", "bob")
	registerAndJoin(t, hub, aliceTab1, room.ID)
	registerAndJoin(t, hub, aliceTab2, room.ID)
	registerAndJoin(t, hub, bob, room.ID)

	aliceTab1.Commands <- &Command{Kind: CommandTyping, Room: room.ID}

	ev := mustEvent(t, bob.Events, EventTyping)
	if ev.User != "alice" || ev.Room != room.ID {
		t.Fatalf("unexpected typing event: %+v", ev)
	}

	// The typing user's other tab must not see its own indicator.
	mustNoEvent(t, aliceTab2.Events, EventTyping)
}

func TestHubPresenceTransitions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	membership := newFakeMembership()
	users := newFakeUsers()
	membership.addRoom("r1", "alice", "bob")

	hub := NewHub(&fakeMessages{}, membership, users, nil)
	go hub.Run(ctx)

	bob := NewClient("b", "bob")
	hub.RegisterClient(bob)
	bob.Commands <- &Command{Kind: CommandRegister}
	waitOnline(t, hub, "bob")

	// First connection flips alice online; her chat counterpart is told.
	aliceTab1 := NewClient("a1", "alice")
	hub.RegisterClient(aliceTab1)
	aliceTab1.Commands <- &Command{Kind: CommandRegister}

	ev := mustEvent(t, bob.Events, EventPresence)
	if ev.User != "alice" || !ev.Online {
		t.Fatalf("expected alice online, got %+v", ev)
	}
	if !hub.IsOnline("alice") {
		t.Fatal("registry does not report alice online")
	}

	// A second connection is not a transition.
	aliceTab2 := NewClient("a2", "alice")
	hub.RegisterClient(aliceTab2)
	aliceTab2.Commands <- &Command{Kind: CommandRegister}
	mustNoEvent(t, bob.Events, EventPresence)

	// Closing one of two connections keeps her online.
	hub.UnregisterClient(aliceTab2)
	mustNoEvent(t, bob.Events, EventPresence)
	if !hub.IsOnline("alice") {
		t.Fatal("alice flipped offline while a connection remains")
	}

	// Closing the last connection flips her offline with a last seen stamp.
	hub.UnregisterClient(aliceTab1)
	ev = mustEvent(t, bob.Events, EventPresence)
	if ev.User != "alice" || ev.Online {
		t.Fatalf("expected alice offline, got %+v", ev)
	}
	if ev.LastSeen.IsZero() {
		t.Fatal("offline presence event missing last seen")
	}
	if hub.IsOnline("alice") {
		t.Fatal("registry still reports alice online")
	}

	// Durable presence eventually catches up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if online, ok := users.presence("alice"); ok && !online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("durable presence never recorded offline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	membership := newFakeMembership()
	messages := &fakeMessages{}
	room := membership.addRoom("r1", "alice", "bob")

	hub := NewHub(messages, membership, nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	registerAndJoin(t, hub, alice, room.ID)
	registerAndJoin(t, hub, bob, room.ID)

	hub.UnregisterClient(bob)

	// Give the drop time to land, then publish.
	time.Sleep(50 * time.Millisecond)
	alice.Commands <- &Command{Kind: CommandSendMessage, Room: room.ID, Content: "after drop"}

	mustEvent(t, alice.Events, EventMessage)
	mustNoEvent(t, bob.Events, EventMessage)
}

func TestHubPresenceFlapDeliveredInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	membership := newFakeMembership()
	users := newFakeUsers()
	membership.addRoom("r1", "alice", "bob")

	hub := NewHub(&fakeMessages{}, membership, users, nil)
	go hub.Run(ctx)

	bob := NewClient("b", "bob")
	hub.RegisterClient(bob)
	bob.Commands <- &Command{Kind: CommandRegister}
	waitOnline(t, hub, "bob")

	aliceTab1 := NewClient("a1", "alice")
	hub.RegisterClient(aliceTab1)
	aliceTab1.Commands <- &Command{Kind: CommandRegister}
	ev := mustEvent(t, bob.Events, EventPresence)
	if !ev.Online {
		t.Fatalf("expected alice online, got %+v", ev)
	}

	// Stall the offline presence write, then disconnect and immediately
	// reconnect. The online resolution must queue behind the stalled
	// offline one instead of overtaking it.
	hold := make(chan struct{})
	users.stallOffline(hold)

	hub.UnregisterClient(aliceTab1)
	aliceTab2 := NewClient("a2", "alice")
	hub.RegisterClient(aliceTab2)
	aliceTab2.Commands <- &Command{Kind: CommandRegister}
	waitOnline(t, hub, "alice")

	// Nothing reaches bob while the chain head is stalled.
	mustNoEvent(t, bob.Events, EventPresence)

	close(hold)

	ev = mustEvent(t, bob.Events, EventPresence)
	if ev.User != "alice" || ev.Online {
		t.Fatalf("expected the offline transition first, got %+v", ev)
	}
	ev = mustEvent(t, bob.Events, EventPresence)
	if ev.User != "alice" || !ev.Online {
		t.Fatalf("expected the online transition last, got %+v", ev)
	}

	// Durable presence settles on online as well.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if online, ok := users.presence("alice"); ok && online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("durable presence stuck offline after reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRefreshLastSeenSurvivesWriteErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	membership := newFakeMembership()
	users := newFakeUsers()

	hub := NewHub(&fakeMessages{}, membership, users, nil)
	go hub.Run(ctx)

	for _, id := range []string{"alice", "bob"} {
		c := NewClient("c-"+id, id)
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandRegister}
		waitOnline(t, hub, id)
	}

	// Let the registration presence writes land before counting.
	deadline := time.Now().Add(2 * time.Second)
	for users.writeCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("initial presence writes never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	base := users.writeCount()

	// Every write now fails; the refresh must still attempt both users.
	users.failAll()
	hub.refreshLastSeen()

	deadline = time.Now().Add(2 * time.Second)
	for users.writeCount() < base+2 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh stopped early: %d writes after %d", users.writeCount()-base, base)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubStopReleasesClientPumps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(&fakeMessages{}, newFakeMembership(), newFakeUsers(), nil)
	go hub.Run(ctx)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandRegister}
	waitOnline(t, hub, "alice")

	cancel()
	select {
	case <-hub.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never stopped")
	}

	// A pump over an idle client must return once the hub has stopped
	// even though the connection was never unregistered.
	exited := make(chan struct{})
	go func() {
		hub.pump(alice)
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("pump still blocked after hub stop")
	}
}
