package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readJSON(t *testing.T, r *bufio.Reader) map[string]any {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(line, &m))
	return m
}

func TestTCPServerBroadcasts(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := NewServer("", hub, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(conn)

	assert.Equal(t, "welcome", readJSON(t, r)["type"])
	require.Eventually(t, func() bool { return hub.Stats().TCPClients == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Publish(Event{Type: TypeRegionCompleted, RunID: "r1", Region: "AU", Inserted: 3})
	got := readJSON(t, r)
	assert.Equal(t, TypeRegionCompleted, got["type"])
	assert.Equal(t, "AU", got["region"])
	assert.EqualValues(t, 3, got["inserted"])
	assert.NotEmpty(t, got["at"])

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Stats().TCPClients == 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWebSocketSubscriber(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zerolog.Nop())
	r := gin.New()
	r.GET("/ws", WSHandler(hub, func(string) bool { return true }))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "welcome")
	require.Eventually(t, func() bool { return hub.Stats().WSClients == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Publish(Event{Type: TypeRunCompleted, RunID: "r2"})
	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, TypeRunCompleted, ev.Type)
	assert.Equal(t, "r2", ev.RunID)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Publish(Event{Type: TypeRunStarted}) })
}
