// Package ws streams generator state changes to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"genwatch/internal/logging"
	"genwatch/internal/monitor"
)

const writeWait = 10 * time.Second

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// StateHub tracks connected clients and fans out state changes to them.
type StateHub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewStateHub creates an empty hub.
func NewStateHub(logger *slog.Logger) *StateHub {
	return &StateHub{
		clients: make(map[*websocket.Conn]*client),
		logger:  logging.Component(logger, "ws"),
	}
}

// register adds a connection.
func (h *StateHub) register(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{conn: conn}
	h.clients[conn] = c
	h.logger.Debug("client registered", "remote", conn.RemoteAddr().String(), "total", len(h.clients))
	return c
}

// Unregister removes a connection. It is safe to call more than once.
func (h *StateHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.Debug("client unregistered", "remote", conn.RemoteAddr().String())
	}
}

// ClientCount returns the number of connected clients.
func (h *StateHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends data to every client, dropping the ones that fail.
func (h *StateHub) Broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.logger.Warn("dropping client after write error", "error", err)
			h.Unregister(c.conn)
			c.conn.Close()
		}
	}
}

// Publish broadcasts a state change. It never fails because of a client.
func (h *StateHub) Publish(_ context.Context, change monitor.StateChange) error {
	if h.ClientCount() == 0 {
		return nil
	}
	data, err := json.Marshal(NewStateMessage(change))
	if err != nil {
		return fmt.Errorf("failed to marshal state message: %w", err)
	}
	h.Broadcast(data)
	return nil
}
