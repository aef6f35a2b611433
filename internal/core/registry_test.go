package core

import "testing"

func TestRegistryConnectionCounting(t *testing.T) {
	r := NewRegistry()

	tab1 := NewClient("c1", "alice")
	tab2 := NewClient("c2", "alice")

	if !r.Add(tab1) {
		t.Fatal("first connection should be a transition")
	}
	if r.Add(tab2) {
		t.Fatal("second connection should not be a transition")
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should be online")
	}

	if r.Remove(tab1) {
		t.Fatal("removing one of two connections should not be a transition")
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should still be online")
	}

	if !r.Remove(tab2) {
		t.Fatal("removing the last connection should be a transition")
	}
	if r.IsOnline("alice") {
		t.Fatal("alice should be offline")
	}
	if r.LastSeen("alice").IsZero() {
		t.Fatal("last seen should be stamped on the offline transition")
	}
}

func TestRegistryRemoveUnknownConnection(t *testing.T) {
	r := NewRegistry()

	stranger := NewClient("c1", "alice")
	if r.Remove(stranger) {
		t.Fatal("removing an unbound connection should not be a transition")
	}

	bound := NewClient("c2", "alice")
	r.Add(bound)
	if r.Remove(stranger) {
		t.Fatal("removing an unbound connection should not evict the bound one")
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should still be online")
	}
}

func TestRegistryOnlineSnapshot(t *testing.T) {
	r := NewRegistry()

	r.Add(NewClient("c1", "alice"))
	r.Add(NewClient("c2", "bob"))

	online := r.Online()
	if len(online) != 2 {
		t.Fatalf("online = %v, want two users", online)
	}
}
