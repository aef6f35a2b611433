package client

import (
	"sort"
	"sync"
	"time"

	"github.com/pulsemeet/pulse-server/internal/utils"
)

// dedupWindow is how far apart an optimistic copy and its durable envelope
// may be timestamped and still be considered the same logical message when
// the temp id was lost.
const dedupWindow = 5 * time.Second

// Message is one entry in a room view. Pending marks an optimistic local copy
// that has not been confirmed durable yet.
type Message struct {
	ID        string
	Room      string
	Sender    string
	Text      string
	CreatedAt time.Time
	Pending   bool
	Failed    bool
}

// RoomView reconciles the three message sources a client sees for one room:
// optimistic local copies, realtime pushes, and backfill pages. It guarantees
// exactly one visible copy per logical message and keeps display order by the
// durable timestamp.
type RoomView struct {
	mu     sync.Mutex
	roomID string
	selfID string

	messages []Message
	byID     map[string]int
}

// NewRoomView constructs a view for the given room and local user.
func NewRoomView(roomID, selfID string) *RoomView {
	return &RoomView{
		roomID: roomID,
		selfID: selfID,
		byID:   make(map[string]int),
	}
}

// AddLocal records an optimistic copy of an outgoing message and returns its
// temp id. The copy renders immediately and is replaced once the durable
// envelope arrives.
func (v *RoomView) AddLocal(text string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	tempID := "tmp-" + utils.NewUUID()
	v.insertLocked(Message{
		ID:        tempID,
		Room:      v.roomID,
		Sender:    v.selfID,
		Text:      text,
		CreatedAt: time.Now(),
		Pending:   true,
	})
	return tempID
}

// ApplyDurable merges a durable envelope pushed over the realtime channel.
// tempID, when non-empty, is the round-tripped optimistic id and wins an
// exact substitution; otherwise a pending copy with the same sender and text
// within the dedup window is substituted; otherwise the envelope is inserted
// unless its id is already known.
func (v *RoomView) ApplyDurable(m Message, tempID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	m.Pending = false
	m.Failed = false

	if tempID != "" {
		if i, ok := v.byID[tempID]; ok {
			v.replaceLocked(i, m)
			return
		}
	}
	if _, ok := v.byID[m.ID]; ok {
		// Redelivery: at-least-once transport, dedup here.
		return
	}
	if m.Sender == v.selfID {
		if i, ok := v.findPendingMatchLocked(m); ok {
			v.replaceLocked(i, m)
			return
		}
	}
	v.insertLocked(m)
}

// MarkFailed flags an optimistic copy whose append was rejected. The caller
// owns retry.
func (v *RoomView) MarkFailed(tempID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if i, ok := v.byID[tempID]; ok {
		v.messages[i].Pending = false
		v.messages[i].Failed = true
	}
}

// Backfill merges a page fetched from the message store. Known ids are
// skipped; everything else is inserted in durable timestamp order.
func (v *RoomView) Backfill(msgs []Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, m := range msgs {
		m.Pending = false
		m.Failed = false
		if _, ok := v.byID[m.ID]; ok {
			continue
		}
		if m.Sender == v.selfID {
			if i, ok := v.findPendingMatchLocked(m); ok {
				v.replaceLocked(i, m)
				continue
			}
		}
		v.insertLocked(m)
	}
}

// Messages returns a snapshot in display order.
func (v *RoomView) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// LastDurable returns the timestamp of the newest non-pending message, used
// as the lower bound for the reconnect gap fetch.
func (v *RoomView) LastDurable() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	var last time.Time
	for _, m := range v.messages {
		if !m.Pending && !m.Failed && m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	return last
}

func (v *RoomView) findPendingMatchLocked(m Message) (int, bool) {
	for i, existing := range v.messages {
		if !existing.Pending || existing.Sender != m.Sender || existing.Text != m.Text {
			continue
		}
		delta := m.CreatedAt.Sub(existing.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= dedupWindow {
			return i, true
		}
	}
	return 0, false
}

func (v *RoomView) insertLocked(m Message) {
	v.messages = append(v.messages, m)
	v.resortLocked()
}

func (v *RoomView) replaceLocked(i int, m Message) {
	delete(v.byID, v.messages[i].ID)
	v.messages[i] = m
	v.resortLocked()
}

func (v *RoomView) resortLocked() {
	sort.SliceStable(v.messages, func(i, j int) bool {
		if v.messages[i].CreatedAt.Equal(v.messages[j].CreatedAt) {
			return v.messages[i].ID < v.messages[j].ID
		}
		return v.messages[i].CreatedAt.Before(v.messages[j].CreatedAt)
	})
	for i, m := range v.messages {
		v.byID[m.ID] = i
	}
}
