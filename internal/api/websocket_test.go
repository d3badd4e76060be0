package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/motion-core/internal/control"
	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/logging"
)

// startServer starts srv on an ephemeral port and closes it after the test.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv.Addr()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn, id string, channels ...string) WSMessage {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      id,
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	return readMessage(t, ws)
}

// waitForClients polls until the hub has n clients.
func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.ClientCount() != n {
		t.Fatalf("hub client count = %d, want %d", h.ClientCount(), n)
	}
}

func TestWebSocket_SubscribeAndSnapshot(t *testing.T) {
	srv, _ := testServer(t, "")
	addr := startServer(t, srv)
	ws := dial(t, "ws://"+addr+"/api/v1/ws")

	resp := subscribe(t, ws, "sub-1", control.EventPlaybackState, control.EventAnalysisCompleted)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("response = %+v", resp)
	}

	// State channels are greeted with their current value.
	snap := readMessage(t, ws)
	if snap.Type != WSTypeEvent || snap.EventType != control.EventPlaybackState {
		t.Fatalf("snapshot = %+v", snap)
	}
	payload, _ := snap.Payload.(map[string]any) //nolint:errcheck // checked below
	if payload["phase"] != "idle" {
		t.Errorf("snapshot payload = %v", snap.Payload)
	}
}

func TestWebSocket_Broadcast(t *testing.T) {
	srv, _ := testServer(t, "")
	addr := startServer(t, srv)
	ws := dial(t, "ws://"+addr+"/api/v1/ws")

	subscribe(t, ws, "sub-1", control.EventAnalysisCompleted)
	waitForClients(t, srv.Hub(), 1)

	srv.Hub().Broadcast(control.EventPlaybackCommand, map[string]any{"position": 0.2})
	srv.Hub().Broadcast(control.EventAnalysisCompleted, map[string]any{"id": "rec-1"})

	// Only the subscribed channel arrives.
	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != control.EventAnalysisCompleted {
		t.Errorf("broadcast = %+v", msg)
	}
}

func TestWebSocket_UnsubscribePingAndErrors(t *testing.T) {
	srv, _ := testServer(t, "")
	addr := startServer(t, srv)
	ws := dial(t, "ws://"+addr+"/api/v1/ws")

	tests := []struct {
		name     string
		send     string
		wantType string
		wantText string
	}{
		{name: "ping", send: `{"type": "ping", "id": "p1"}`, wantType: WSTypePong},
		{name: "invalid json", send: `{`, wantType: WSTypeError, wantText: "invalid JSON"},
		{name: "unknown type", send: `{"type": "rewind", "id": "x"}`, wantType: WSTypeError, wantText: "unknown message type"},
		{name: "unknown channel", send: `{"type": "subscribe", "id": "s", "payload": {"channels": ["device.state_changed"]}}`, wantType: WSTypeError, wantText: "unknown channel"},
		{name: "unsubscribe", send: `{"type": "unsubscribe", "id": "u", "payload": {"channels": ["playback.command"]}}`, wantType: WSTypeResponse, wantText: "unsubscribed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatalf("write: %v", err)
			}
			msg := readMessage(t, ws)
			if msg.Type != tt.wantType {
				t.Errorf("type = %q, want %q", msg.Type, tt.wantType)
			}
			if tt.wantText != "" {
				raw, _ := json.Marshal(msg.Payload) //nolint:errcheck // test
				if !strings.Contains(string(raw), tt.wantText) {
					t.Errorf("payload = %s, want containing %q", raw, tt.wantText)
				}
			}
		})
	}
}

func TestWebSocket_TicketAuth(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	addr := startServer(t, srv)

	for _, url := range []string{
		"ws://" + addr + "/api/v1/ws",
		"ws://" + addr + "/api/v1/ws?ticket=invalid-ticket",
	} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("dial %s: expected error", url)
		}
		if resp != nil && resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %s: status = %d, want 401", url, resp.StatusCode)
		}
	}

	// A ticket requires a bearer token.
	req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/api/v1/auth/ws-ticket", nil) //nolint:errcheck // static request
	unauth, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	unauth.Body.Close()
	if unauth.StatusCode != http.StatusUnauthorized {
		t.Errorf("ticket without token status = %d, want 401", unauth.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, "http://"+addr+"/api/v1/auth/ws-ticket", nil) //nolint:errcheck // static request
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "motioncore-test", time.Now().Add(time.Hour)))
	ticketResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer ticketResp.Body.Close()

	var ticket struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(ticketResp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.Ticket == "" || ticket.ExpiresIn != int(ticketTTL.Seconds()) {
		t.Fatalf("ticket = %+v", ticket)
	}

	ws := dial(t, "ws://"+addr+"/api/v1/ws?ticket="+ticket.Ticket)
	if resp := subscribe(t, ws, "sub-1", control.EventPlaybackCommand); resp.Type != WSTypeResponse {
		t.Errorf("subscribe response = %+v", resp)
	}

	// Tickets are single-use.
	if _, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws?ticket="+ticket.Ticket, nil); err == nil {
		t.Error("reused ticket accepted")
	}
}

func TestHub_ExternalHubAndClose(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")
	hub := NewHub(config.WebSocketConfig{}, log)
	if hub.cfg.PingInterval <= 0 || hub.cfg.PongTimeout <= 0 || hub.cfg.MaxMessageSize <= 0 {
		t.Fatalf("zero config not defaulted: %+v", hub.cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1"},
		Logger:  log,
		Control: newMockController(),
		Hub:     hub,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if srv.Hub() != hub {
		t.Fatal("external hub not used")
	}
	addr := startServer(t, srv)
	dial(t, "ws://"+addr+"/api/v1/ws")
	waitForClients(t, hub, 1)

	// The injected hub outlives the server until its own context ends.
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub.Run did not return")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after close, want 0", hub.ClientCount())
	}
}
