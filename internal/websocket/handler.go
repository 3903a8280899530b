package websocket

import (
	"strings"

	"github.com/gofiber/websocket/v2"
)

// ServeWs handles websocket requests from the peer. channels is the raw
// comma-separated pattern list from the request query.
func ServeWs(hub *Hub, c *websocket.Conn, channels string) {
	var patterns []string
	for _, p := range strings.Split(channels, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}

	client := &Client{Hub: hub, Conn: c, Channels: patterns, Send: make(chan []byte, 256)}
	client.Hub.register <- client

	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)
}
