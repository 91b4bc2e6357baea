// Package live pushes committed session events to connected clients over
// websockets. The hub implements the engine's notifier; it never blocks a
// mutation on a slow client.
package live

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/torchlit/gametable/internal/interaction/domain"
)

// Envelope is the wire frame pushed to clients for each committed event.
type Envelope struct {
	Type         domain.EventType `json:"type"`
	SessionID    string           `json:"session_id"`
	Seq          int64            `json:"seq"`
	Timestamp    time.Time        `json:"timestamp"`
	ActorType    domain.ActorType `json:"actor_type"`
	EntityID     string           `json:"entity_id,omitempty"`
	SessionLabel string           `json:"session_label,omitempty"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
}

// Hub fans committed events out to the clients watching each session.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

// SessionChanged pushes one committed event to every client in the session's
// room. Clients whose send buffer is full are dropped; they reconnect and
// recover from the snapshot.
func (h *Hub) SessionChanged(sessionID string, event domain.Event) {
	frame, err := json.Marshal(Envelope{
		Type:         event.Type,
		SessionID:    event.SessionID,
		Seq:          event.Seq,
		Timestamp:    event.Timestamp,
		ActorType:    event.ActorType,
		EntityID:     event.EntityID,
		SessionLabel: event.SessionLabel,
		Payload:      event.PayloadJSON,
	})
	if err != nil {
		log.Printf("encode live envelope session=%s: %v", sessionID, err)
		return
	}

	h.mu.RLock()
	room := h.rooms[sessionID]
	stale := make([]*client, 0)
	for c := range room {
		select {
		case c.send <- frame:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		log.Printf("dropping slow live client session=%s conn=%s", sessionID, c.connID)
		h.remove(c)
		c.closeOnce()
	}
}

// ClientCount reports how many clients watch a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0)
	for _, room := range h.rooms {
		for c := range room {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.closeOnce()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.sessionID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.sessionID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.sessionID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.sessionID)
	}
}
