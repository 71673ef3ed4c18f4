package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/remote-session/internal/models"
	"github.com/mossy-p/remote-session/internal/roomview"
	"github.com/spf13/cobra"
)

const watchHeartbeat = 20 * time.Second

var (
	flagWatchServer string
	flagWatchName   string
	flagWatchToken  string
)

var watchCmd = &cobra.Command{
	Use:   "watch <room-id|join-code>",
	Short: "Join a room as a viewer and print its state as it changes",
	Long: `Join a room as a viewer and follow its room-state stream.

Examples:
  coordinator watch ABC234
  coordinator watch ABC234 --server http://coord.internal:8080 --name ops`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watch(ctx, strings.TrimRight(flagWatchServer, "/"), args[0])
	},
}

func init() {
	watchCmd.Flags().StringVarP(&flagWatchServer, "server", "s", "http://localhost:8080", "coordinator base URL")
	watchCmd.Flags().StringVarP(&flagWatchName, "name", "n", "watcher", "display name shown to the room")
	watchCmd.Flags().StringVar(&flagWatchToken, "token", "", "bearer token; joins as a guest when empty")
}

func watch(ctx context.Context, server, room string) error {
	p, err := joinRoom(ctx, server, room)
	if err != nil {
		return err
	}
	defer leaveRoom(server, p)

	wsURL, err := signalingURL(server, p)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to open signaling socket: %w", err)
	}
	defer conn.Close()

	fmt.Printf("joined %s as %s (%s)\n", p.RoomID, p.DisplayName, p.ID)

	// Unblock ReadJSON on cancellation
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()
	go heartbeat(ctx, conn, p.ID)

	view := roomview.New()
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("signaling socket closed: %w", err)
		}

		switch env.Type {
		case models.TypeRoomState:
			if view.Handle(env) {
				printState(view.Current())
			}
		case models.TypeKick:
			fmt.Printf("removed from room: %s\n", env.Reason)
		case models.TypeChat:
			if env.Chat != nil {
				fmt.Printf("[chat] %s: %s\n", env.Chat.DisplayName, env.Chat.Content)
			}
		case models.TypeError:
			fmt.Printf("[error] %s\n", env.Error)
		}
	}
}

// heartbeat keeps the watcher connected; the socket carries no other outbound traffic
func heartbeat(ctx context.Context, conn *websocket.Conn, participantID string) {
	ticker := time.NewTicker(watchHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(models.Envelope{Type: models.TypeHeartbeat, SenderID: participantID}); err != nil {
				return
			}
		}
	}
}

func printState(s models.RoomSnapshot) {
	fmt.Printf("\nroom %s  status=%s  version=%d\n", s.Room.JoinCode, s.Room.Status, s.Version)
	if s.MediaSession != nil {
		fmt.Printf("  media %s publisher=%s online=%t\n", s.MediaSession.Mode, s.MediaSession.PublisherID, s.MediaSession.PublisherOnline)
	}
	fmt.Printf("  host %s\n", s.HostState)
	for _, p := range s.Participants {
		muted := ""
		if p.Muted {
			muted = " muted"
		}
		fmt.Printf("  %-20s %-7s %-10s %-12s%s\n", p.DisplayName, p.Role, p.ConnectionStatus, p.ControlState, muted)
	}
}

func joinRoom(ctx context.Context, server, room string) (models.Participant, error) {
	body, err := json.Marshal(models.JoinRoomRequest{DisplayName: flagWatchName})
	if err != nil {
		return models.Participant{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		server+"/api/rooms/"+url.PathEscape(room)+"/participants", bytes.NewReader(body))
	if err != nil {
		return models.Participant{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if flagWatchToken != "" {
		req.Header.Set("Authorization", "Bearer "+flagWatchToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Participant{}, fmt.Errorf("failed to join room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return models.Participant{}, fmt.Errorf("failed to join room: %s: %s", resp.Status, apiErr.Error)
	}

	var p models.Participant
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return models.Participant{}, fmt.Errorf("failed to decode participant: %w", err)
	}
	return p, nil
}

func leaveRoom(server string, p models.Participant) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		server+"/api/rooms/"+url.PathEscape(p.RoomID)+"/participants/"+url.PathEscape(p.ID), nil)
	if err != nil {
		return
	}
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
	}
}

func signalingURL(server string, p models.Participant) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/signal/" + p.RoomID
	u.RawQuery = url.Values{"participantId": {p.ID}}.Encode()
	return u.String(), nil
}
