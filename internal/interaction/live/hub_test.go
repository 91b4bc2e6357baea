package live

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torchlit/gametable/internal/interaction/domain"
)

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?session_id=" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(sessionID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("clients = %d, want %d", hub.ClientCount(sessionID), want)
}

func TestHub_PushesEventsToSessionRoom(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	server := httptest.NewServer(NewHandler(hub, nil))
	defer server.Close()
	defer hub.Shutdown()

	conn := dial(t, server, "session-1")
	other := dial(t, server, "session-2")
	waitForClients(t, hub, "session-1", 1)
	waitForClients(t, hub, "session-2", 1)

	hub.SessionChanged("session-1", domain.Event{
		ID:          "event-1",
		SessionID:   "session-1",
		Seq:         7,
		Type:        domain.EventTurnTaken,
		Timestamp:   time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
		ActorType:   domain.ActorPlayer,
		EntityID:    "rogue",
		PayloadJSON: []byte(`{"schema_version":1}`),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Type != domain.EventTurnTaken || envelope.Seq != 7 {
		t.Errorf("envelope = %s seq %d, want turn.taken seq 7", envelope.Type, envelope.Seq)
	}
	if envelope.EntityID != "rogue" {
		t.Errorf("entity = %q, want rogue", envelope.EntityID)
	}

	// The other room sees nothing.
	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("unexpected frame in other session's room")
	}
}

func TestHub_RemovesClientOnDisconnect(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	server := httptest.NewServer(NewHandler(hub, nil))
	defer server.Close()
	defer hub.Shutdown()

	conn := dial(t, server, "session-1")
	waitForClients(t, hub, "session-1", 1)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitForClients(t, hub, "session-1", 0)
}

func TestHandler_RequiresSessionID(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	server := httptest.NewServer(NewHandler(hub, nil))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without session_id")
	}
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != 400 {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	}
}
