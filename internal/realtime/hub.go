// Package realtime pushes occupancy changes to websocket subscribers such
// as lot display boards.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/queue"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Display boards connect from arbitrary kiosks.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub keeps the set of connected subscribers and fans occupancy events
// out to them.  Only space.* and session.* events are forwarded; payment
// and alert events never leave the service over this channel.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
}

// NewHub returns a Hub.  Call Run before serving connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("realtime: subscriber connected, total %d", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("realtime: subscriber disconnected, total %d", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					log.Printf("realtime: write failed, dropping subscriber: %v", err)
					c.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit implements queue.Sink.  It never blocks; when the broadcast
// buffer is full the event is dropped.
func (h *Hub) Emit(_ context.Context, ev queue.Event) {
	if !strings.HasPrefix(ev.Type, "space.") && !strings.HasPrefix(ev.Type, "session.") {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("realtime: marshal %s: %v", ev.Type, err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("realtime: broadcast buffer full, dropping %s", ev.Type)
	}
}

// Handle upgrades GET /v1/ws/occupancy.  The connection is read only to
// notice when the subscriber goes away.  Once Run has returned, new
// connections are closed straight away.
func (h *Hub) Handle(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("realtime: upgrade: %v", err)
		return nil
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return nil
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("realtime: read: %v", err)
				}
				return
			}
		}
	}()
	return nil
}
