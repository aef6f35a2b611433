package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pulsemeet/pulse-server/internal/client"
	"github.com/pulsemeet/pulse-server/internal/proto"
	"github.com/pulsemeet/pulse-server/internal/utils"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	peer := flag.String("peer", "", "counterpart user id to chat with")
	flag.Parse()

	if *email == "" || *password == "" || *peer == "" {
		return fmt.Errorf("email, password and peer are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 10 * time.Second}

	token, selfID, err := login(ctx, httpClient, *addr, *email, *password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	roomID, err := openRoom(ctx, httpClient, *addr, token, *peer)
	if err != nil {
		return fmt.Errorf("open room: %w", err)
	}

	session := client.NewSession(client.Config{
		URL:   wsURL(*addr),
		Token: token,
		Handlers: client.Handlers{
			OnMessage: func(ev proto.EventMessage) {
				if ev.Sender == selfID {
					fmt.Printf("[you] %s\n", ev.Text)
					return
				}
				fmt.Printf("[%s] %s\n", ev.Sender, ev.Text)
			},
			OnTyping: func(ev proto.EventTyping) {
				fmt.Printf("-- %s is typing --\n", ev.User)
			},
			OnPresence: func(ev proto.EventPresence) {
				state := "offline"
				if ev.Online {
					state = "online"
				}
				fmt.Printf("-- %s is %s --\n", ev.User, state)
			},
			OnJoined: func(ev proto.EventJoined) {
				fmt.Printf("-- joined room %s --\n", ev.Room)
			},
			OnError: func(e proto.Error) {
				fmt.Printf("!! %s: %s\n", e.Code, e.Msg)
			},
		},
	})

	if err := session.Join(ctx, roomID); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	go session.Run(ctx)

	fmt.Printf("Connected to %s, room %s. Type messages and press Enter. Ctrl+C to exit.\n", *addr, roomID)
	writeLoop(ctx, session, roomID)

	stop()
	return nil
}

func writeLoop(ctx context.Context, session *client.Session, roomID string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			if err := session.SendMessage(ctx, roomID, text, "tmp-"+utils.NewUUID()); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

func login(ctx context.Context, httpClient *http.Client, baseURL, email, password string) (token, userID string, err error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Token, out.User.ID, nil
}

func openRoom(ctx context.Context, httpClient *http.Client, baseURL, token, peerID string) (string, error) {
	body, err := json.Marshal(map[string]string{"user_id": peerID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat/rooms", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}
