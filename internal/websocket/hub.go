package websocket

import (
	"encoding/json"
	"strings"
	"sync"

	"eventmesh-be/internal/pkg/logger"
	"eventmesh-be/pkg/events"
)

// Hub fans real-time events out to connected operator clients. Each client
// carries a set of channel patterns (`order:*`, `user:created`); an empty set
// means everything.
type Hub struct {
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// Dedicated Logger
	logger logger.ILogger
}

func NewHub(log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		logger:     log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"channels": client.Channels})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes one event to every client whose patterns match channel.
func (h *Hub) Broadcast(channel string, event events.EnhancedEvent) {
	data, err := json.Marshal(map[string]interface{}{
		"channel": channel,
		"event":   event,
	})
	if err != nil {
		h.logger.Error("Hub", "Failed to marshal event frame", map[string]interface{}{"error": err.Error()})
		return
	}

	h.mu.RLock()
	for client := range h.clients {
		if !client.Wants(channel) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// Slow consumer; drop it rather than block the fan-out.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
	h.mu.RUnlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// matchChannel supports a trailing `*` wildcard on the action segment.
func matchChannel(pattern, channel string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}
