package client

import (
	"sync"
	"time"
)

// DefaultTypingTTL matches the refresh cadence of typing signals: absent a
// refresh within the window, the indicator reverts to false.
const DefaultTypingTTL = time.Second

// TypingIndicator is the consumer side of the typing channel. Rapid signals
// coalesce into a single active state; expiry is local, the server never
// sends a "stopped typing" event.
type TypingIndicator struct {
	mu     sync.Mutex
	ttl    time.Duration
	timer  *time.Timer
	typing bool
}

// NewTypingIndicator constructs an indicator with the given expiry window.
// ttl <= 0 selects DefaultTypingTTL.
func NewTypingIndicator(ttl time.Duration) *TypingIndicator {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingIndicator{ttl: ttl}
}

// Signal records a received typing event: typing becomes true and the expiry
// timer is armed or reset.
func (t *TypingIndicator) Signal() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.typing = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.typing = false
	})
}

// IsTyping reports the current state.
func (t *TypingIndicator) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Stop cancels the expiry timer and clears the state.
func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.typing = false
}
