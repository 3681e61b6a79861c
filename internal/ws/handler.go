package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"genwatch/internal/monitor"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusFunc returns the current monitor status for new clients.
type StatusFunc func() monitor.Status

// Handler upgrades requests on /ws/state and registers them with the hub.
type Handler struct {
	hub    *StateHub
	status StatusFunc
}

// NewHandler creates a Handler. status may be nil, in which case no greeting is sent.
func NewHandler(hub *StateHub, status StatusFunc) *Handler {
	return &Handler{hub: hub, status: status}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("upgrade failed", "error", err)
		return
	}
	h.hub.logger.Info("new connection", "remote", r.RemoteAddr)

	c := h.hub.register(conn)
	if h.status != nil {
		data, err := json.Marshal(NewStatusMessage(h.status(), time.Now()))
		if err == nil {
			err = c.write(websocket.TextMessage, data)
		}
		if err != nil {
			h.hub.logger.Warn("failed to send status greeting", "error", err)
		}
	}

	go h.readPump(c)
}

// readPump keeps the connection alive and notices when the client goes away.
func (h *Handler) readPump(c *client) {
	conn := c.conn
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.logger.Warn("read error", "error", err)
			}
			return
		}
	}
}
