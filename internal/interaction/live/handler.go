package live

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	connID    string
	send      chan []byte
	once      sync.Once
}

func (c *client) closeOnce() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Handler upgrades websocket requests and attaches each connection to its
// session room. Authorization happens before the upgrade: callers join
// through the engine first and pass the connection id it registered.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler constructs the websocket endpoint for a hub.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// checkOrigin admits same-origin and non-browser clients by default, plus any
// configured origin. "*" allows everything.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles GET /live?session_id=...&connection_id=...
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	connID := r.URL.Query().Get("connection_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade session=%s: %v", sessionID, err)
		return
	}

	c := &client{
		hub:       h.hub,
		conn:      conn,
		sessionID: sessionID,
		connID:    connID,
		send:      make(chan []byte, sendBuffer),
	}
	h.hub.add(c)

	go c.writePump()
	c.readPump()
}

// readPump consumes client frames until the connection closes. Clients do
// not send commands over the socket; mutations go through the engine API.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.closeOnce()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("live read session=%s conn=%s: %v", c.sessionID, c.connID, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
