package client

import (
	"testing"
	"time"
)

func TestTypingIndicatorExpires(t *testing.T) {
	ind := NewTypingIndicator(100 * time.Millisecond)

	ind.Signal()
	if !ind.IsTyping() {
		t.Fatal("indicator should be active right after a signal")
	}

	time.Sleep(150 * time.Millisecond)
	if ind.IsTyping() {
		t.Fatal("indicator should expire without a refresh")
	}
}

func TestTypingIndicatorRefreshExtends(t *testing.T) {
	ind := NewTypingIndicator(100 * time.Millisecond)

	ind.Signal()
	time.Sleep(60 * time.Millisecond)
	ind.Signal()
	time.Sleep(60 * time.Millisecond)

	// 120ms after the first signal, but only 60ms after the refresh.
	if !ind.IsTyping() {
		t.Fatal("refresh should extend the active window")
	}
}

func TestTypingIndicatorStop(t *testing.T) {
	ind := NewTypingIndicator(time.Minute)

	ind.Signal()
	ind.Stop()
	if ind.IsTyping() {
		t.Fatal("stop should clear the state")
	}
}
