package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simwatch/internal/logger"
)

func TestHub_BroadcastToSubscribers(t *testing.T) {
	hub := NewHub(4, logger.NopLogger())

	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	n, err := hub.Broadcast(context.Background(), Event{EventType: "job_start", JobUID: "J1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, ch := range []<-chan []byte{a, b} {
		var ev Event
		require.NoError(t, json.Unmarshal(<-ch, &ev))
		assert.Equal(t, "job_start", ev.EventType)
		assert.Equal(t, "J1", ev.JobUID)
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := NewHub(1, logger.NopLogger())
	ch, cancel := hub.Subscribe()
	defer cancel()

	ctx := context.Background()
	n, _ := hub.Broadcast(ctx, Event{EventType: "a"})
	assert.Equal(t, 1, n)
	n, _ = hub.Broadcast(ctx, Event{EventType: "b"})
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, hub.Clients())

	<-ch
	_, ok := <-ch
	assert.False(t, ok, "channel closed after drop")
}

func TestHub_CloseRefusesNewSubscribers(t *testing.T) {
	hub := NewHub(1, logger.NopLogger())
	ch, cancel := hub.Subscribe()
	hub.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_ServeHTTP(t *testing.T) {
	hub := NewHub(8, logger.NopLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = hub.Broadcast(context.Background(), Event{EventType: "simulation_start", SimulationUID: "S1"})
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "S1", ev.SimulationUID)
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin", "", true},
		{"same host", "http://api.local:8080", true},
		{"other host", "http://evil.example", false},
		{"garbage", "::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://api.local:8080/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, sameOrigin(r))
		})
	}
}
