package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotConnected is returned when writing on a session with no live
// connection.
var ErrNotConnected = errors.New("not connected")

// wireMessage mirrors the REST message payload.
type wireMessage struct {
	ID        string `json:"id"`
	Room      string `json:"room"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	IsRead    bool   `json:"is_read"`
	CreatedAt int64  `json:"created_at"`
}

// FetchMessages performs the bounded reconciliation fetch: messages in the
// room strictly newer than after, capped at limit. A zero after fetches the
// newest page instead.
func FetchMessages(ctx context.Context, httpClient *http.Client, baseURL, token, roomID string, after time.Time, limit int) ([]Message, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	q := url.Values{}
	if !after.IsZero() {
		q.Set("after", strconv.FormatInt(after.UnixMilli(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	endpoint := fmt.Sprintf("%s/api/chat/rooms/%s/messages", baseURL, url.PathEscape(roomID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch messages: unexpected status %d", resp.StatusCode)
	}

	var wire []wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	msgs := make([]Message, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, Message{
			ID:        w.ID,
			Room:      w.Room,
			Sender:    w.Sender,
			Text:      w.Text,
			CreatedAt: time.UnixMilli(w.CreatedAt).UTC(),
		})
	}
	return msgs, nil
}
