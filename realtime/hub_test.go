package realtime

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
	"go.uber.org/zap"
)

func TestHubBroadcastsToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(Event{Type: EventGraphDegraded, PersonID: "p-1", TaskID: "t-1", Error: "boom"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, EventGraphDegraded, got.Type)
	assert.Equal(t, "p-1", got.PersonID)
	assert.NotZero(t, got.Timestamp)
}

func TestBroadcastWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 300; i++ {
		hub.Broadcast(Event{Type: EventPersonUpdated})
	}
	assert.Equal(t, 0, hub.ClientCount())
}
