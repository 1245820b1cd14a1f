package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"frizo/position_engine/internal/engine"
	"frizo/position_engine/internal/logger"
	"frizo/position_engine/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WSHub fans committed position events out to websocket subscribers. A
// subscriber may narrow the stream to one owner with ?owner=.
type WSHub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan engine.Event
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	log        *logger.Logger
}

type subscription struct {
	conn  *websocket.Conn
	owner string
}

func NewWSHub(log *logger.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan engine.Event, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log.With("component", "ws_hub"),
	}
}

// Run is the hub's event loop. It returns, closing every connection, when
// ctx is done.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub.owner
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.log.Info("ws client connected", "owner", sub.owner, "total", n)

		case conn := <-h.unregister:
			h.drop(conn)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("encode event", "type", ev.Type, "error", err)
				continue
			}
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn, owner := range h.clients {
				if owner != "" && owner != ev.Owner {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// Publish implements engine.Notifier. Events are dropped when the buffer is
// full so a slow subscriber never stalls the engine.
func (h *WSHub) Publish(ev engine.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("ws buffer full, event dropped", "type", ev.Type, "position_id", ev.PositionID)
	}
}

// Clients returns the number of connected subscribers.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "error", err)
		return
	}

	select {
	case h.register <- subscription{conn: conn, owner: r.URL.Query().Get("owner")}:
	case <-h.done:
		conn.Close()
		return
	}

	// read pump: detects disconnects
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}
