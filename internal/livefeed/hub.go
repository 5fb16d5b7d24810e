// Package livefeed pushes controller updates to dashboard browsers over
// websockets.
package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

const writeWait = 5 * time.Second

// Message is the envelope written to every client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection until the client
// goes away. Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes msg to every client, dropping the ones that fail.
func (h *Hub) Broadcast(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			delete(h.clients, conn)
			conn.Close()
		}
	}
	return nil
}

func (h *Hub) OnCycle(_ context.Context, r controller.CycleReport) error {
	return h.Broadcast(Message{Type: "cycle", Data: r})
}

func (h *Hub) OnWatering(_ context.Context, e models.WateringEvent) error {
	return h.Broadcast(Message{Type: "watering", Data: e})
}
