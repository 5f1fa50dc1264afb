package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"churn-insight/internal/logger"
	"churn-insight/internal/services"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// wsClient serialises writes; gorilla connections allow one writer at a time.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// WebSocketHandler streams pipeline events to every connected dashboard.
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	stopped    chan struct{}
	log        *logger.Logger
}

func NewWebSocketHandler(log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stopped:    make(chan struct{}),
		log:        log.With("component", "websocket"),
	}
}

func (h *WebSocketHandler) HandleConnections(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", c.Request.RemoteAddr, "error", err)
		return
	}
	client := &wsClient{conn: ws}
	select {
	case h.register <- client:
	case <-h.stopped:
		ws.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.stopped:
		}
	}()

	done := make(chan struct{})
	go h.handleClientMessages(client, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.write(websocket.PingMessage, nil); err != nil {
				h.log.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleClientMessages(client *wsClient, done chan<- struct{}) {
	defer close(done)
	for {
		var msg map[string]interface{}
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", "error", err)
			}
			return
		}

		var response map[string]interface{}
		switch msg["type"] {
		case "subscribe":
			response = map[string]interface{}{
				"type":      "subscribed",
				"message":   "Subscribed to pipeline events",
				"timestamp": time.Now().Unix(),
			}
		case "ping":
			response = map[string]interface{}{
				"type": "pong",
				"time": time.Now().Unix(),
			}
		default:
			response = map[string]interface{}{
				"type":      "error",
				"message":   "Unknown message type",
				"timestamp": time.Now().Unix(),
			}
		}
		if err := client.writeJSON(response); err != nil {
			return
		}
	}
}

// RunHub owns the client set until ctx is done.
func (h *WebSocketHandler) RunHub(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("client registered", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				h.log.Debug("client unregistered", "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.write(websocket.TextMessage, message); err != nil {
					h.log.Debug("broadcast failed", "error", err)
					client.conn.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

// Publish queues a pipeline event for every client. A full queue drops the
// event rather than blocking the pipeline.
func (h *WebSocketHandler) Publish(e services.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("could not encode event", "type", e.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("event queue full, dropping event", "type", e.Type)
	}
}
