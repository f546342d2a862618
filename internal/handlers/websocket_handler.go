package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"translation-gateway/internal/cache"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler streams usage updates to connected ops dashboards. The
// hub fans out updates published on redis by any gateway instance.
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	manager    *cache.Manager
	logger     *zap.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func NewWebSocketHandler(manager *cache.Manager, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Admin-key middleware gates access before the upgrade.
				return true
			},
		},
		manager:    manager,
		logger:     logger,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// HandleConnections upgrades an admin connection and keeps it subscribed.
func (h *WebSocketHandler) HandleConnections(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() {
		h.unregister <- ws
		ws.Close()
	}()

	h.register <- ws

	// Drain client frames so pings and close frames are processed; the
	// stream itself is one-directional.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
			return
		}
	}
}

// RunHub pumps redis usage updates out to every connected client. It exits
// when ctx is cancelled at shutdown.
func (h *WebSocketHandler) RunHub(ctx context.Context) {
	updates := h.manager.SubscribeUsage(ctx)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
			}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}

		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			h.send(data)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *WebSocketHandler) send(message []byte) {
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}
