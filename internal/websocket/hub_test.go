package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"eventmesh-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{}) {}
func (nopLogger) Warn(string, string, map[string]interface{}) {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error { return nil }

func TestMatchChannel(t *testing.T) {
	cases := []struct {
		pattern string
		channel string
		want    bool
	}{
		{"order:created", "order:created", true},
		{"order:created", "order:status-changed", false},
		{"order:*", "order:created", true},
		{"order:*", "order:status-changed", true},
		{"order:*", "user:created", false},
		{"*", "payment:processed", true},
		{"", "payment:processed", true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, matchChannel(tc.pattern, tc.channel),
			"pattern %q against %q", tc.pattern, tc.channel)
	}
}

func TestClientWants(t *testing.T) {
	subscribed := &Client{Channels: []string{"order:*", "user:created"}}
	assert.True(t, subscribed.Wants("order:created"))
	assert.True(t, subscribed.Wants("user:created"))
	assert.False(t, subscribed.Wants("payment:processed"))

	all := &Client{}
	assert.True(t, all.Wants("payment:processed"))
}

func registerClient(t *testing.T, hub *Hub, channels []string) *Client {
	t.Helper()
	client := &Client{Hub: hub, Channels: channels, Send: make(chan []byte, 4)}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() > 0 }, time.Second, 5*time.Millisecond)
	return client
}

func TestBroadcastFiltersByPattern(t *testing.T) {
	hub := NewHub(nopLogger{})
	go hub.Run()

	orders := registerClient(t, hub, []string{"order:*"})
	users := &Client{Hub: hub, Channels: []string{"user:created"}, Send: make(chan []byte, 4)}
	hub.register <- users
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	ev := events.NewEnhancedEvent(events.TypeOrderCreated, "order-service",
		map[string]interface{}{"orderId": "ord-1"})
	hub.Broadcast("order:created", ev)

	select {
	case frame := <-orders.Send:
		var decoded struct {
			Channel string               `json:"channel"`
			Event   events.EnhancedEvent `json:"event"`
		}
		require.NoError(t, json.Unmarshal(frame, &decoded))
		assert.Equal(t, "order:created", decoded.Channel)
		assert.Equal(t, ev.ID, decoded.Event.ID)
	case <-time.After(time.Second):
		t.Fatal("matching client received no frame")
	}

	select {
	case <-users.Send:
		t.Fatal("non-matching client must not receive the frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastDropsSlowConsumer(t *testing.T) {
	hub := NewHub(nopLogger{})
	go hub.Run()

	slow := &Client{Hub: hub, Send: make(chan []byte)} // unbuffered, never read
	hub.register <- slow
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ev := events.NewEnhancedEvent(events.TypeOrderCreated, "order-service", nil)
	hub.Broadcast("order:created", ev)

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
