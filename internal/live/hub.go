// Package live fans controller snapshots out to websocket clients so
// dashboards can follow the intersection in real time.
package live

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/junctionworks/crossflow/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards are served from arbitrary hosts on the LAN.
		return true
	},
}

// Hub tracks websocket clients and pushes broadcast payloads to all of
// them. Register, unregister and delivery all happen on the Run
// goroutine; HandleWebSocket only parks a reader per connection.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}

	mu        sync.Mutex
	connCount int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 8),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled. All registered
// connections are closed on the way out.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.setCount(0)
			return ctx.Err()

		case client := <-h.register:
			if _, exists := h.clients[client]; !exists {
				h.clients[client] = true
				h.setCount(len(h.clients))
				monitoring.Logf("[live] client connected from %s (total %d)", client.RemoteAddr(), len(h.clients))
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.setCount(len(h.clients))
				client.Close()
				monitoring.Logf("[live] client disconnected (total %d)", len(h.clients))
			}

		case payload := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
					monitoring.Logf("[live] dropping client %s: %v", client.RemoteAddr(), err)
					client.Close()
					delete(h.clients, client)
					h.setCount(len(h.clients))
				}
			}
		}
	}
}

// Broadcast queues a payload for delivery to every connected client.
// Payloads are dropped when nobody is listening or the queue is full.
func (h *Hub) Broadcast(payload []byte) {
	if h.ClientCount() == 0 {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connCount
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.connCount = n
	h.mu.Unlock()
}

// HandleWebSocket upgrades the request and hands the connection to the
// hub. The spawned reader only watches for disconnects; inbound
// payloads are discarded.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "not a websocket upgrade request", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[live] websocket upgrade failed: %v", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure,
					websocket.CloseAbnormalClosure) {
					monitoring.Logf("[live] websocket read error: %v", err)
				}
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
				return
			}
		}
	}()
}
