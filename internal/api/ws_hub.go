package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/metrics"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WSMessage is a JSON message pushed to WebSocket clients after a leg has
// been marked to market. Numbers are decimal strings.
type WSMessage struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	LegID      string    `json:"leg_id,omitempty"`
	Month      string    `json:"month,omitempty"`
	TradePrice string    `json:"trade_price,omitempty"`
	MTMPrice   string    `json:"mtm_price,omitempty"`
	Value      string    `json:"value,omitempty"`
	Warnings   int       `json:"warnings,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WSHub fans MTM updates out to every connected WebSocket client. All
// message writes happen on the Run goroutine.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]struct{}
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
}

// NewWSHub creates a hub. Nothing is delivered until Run is started.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run delivers broadcasts until ctx is cancelled, then closes every client.
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

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
			h.updateGauge()
			slog.Debug("ws client connected", "remote", conn.RemoteAddr().String())

		case conn := <-h.unregister:
			h.drop(conn)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					slog.Debug("ws write failed, dropping client", "err", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
			h.updateGauge()
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
	h.updateGauge()
}

func (h *WSHub) updateGauge() {
	metrics.WebSocketClients.Set(float64(h.Clients()))
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) connected(conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[conn]
	return ok
}

// Broadcast queues msg for every client. It never blocks: when the queue is
// full the message is dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws marshal failed", "type", msg.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("ws broadcast queue full, message dropped", "type", msg.Type)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws. Clients only listen; anything they send
// is discarded.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readPump(conn)
	go h.pingLoop(conn)
}

// readPump detects disconnects and keeps the read deadline fresh on pongs.
func (h *WSHub) readPump(conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps idle connections open through proxies. WriteControl is
// safe to call concurrently with the hub's message writes.
func (h *WSHub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if !h.connected(conn) {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
