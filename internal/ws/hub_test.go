package ws

import (
	"context"
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

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := newRingBuffer(3)
	for i := uint64(1); i <= 5; i++ {
		r.add(Message{Topic: "t", Seq: i})
	}
	got := r.since(0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(5), got[2].Seq)
	assert.Len(t, r.since(4), 1)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHubReplaysAndStreams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(Config{ReplaySize: 2}, zap.NewNop())
	defer h.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, h.ServeWS(ctx, w, r, "client-1", "session.a"))
	}))
	defer srv.Close()

	h.Broadcast("session.a", []byte(`{"n":1}`))
	h.Broadcast("session.a", []byte(`{"n":2}`))
	h.Broadcast("session.a", []byte(`{"n":3}`))
	h.Broadcast("session.b", []byte(`{"other":true}`))

	conn := dial(t, srv)
	assert.Equal(t, `{"n":2}`, read(t, conn))
	assert.Equal(t, `{"n":3}`, read(t, conn))

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	h.Broadcast("session.b", []byte(`{"other":true}`))
	h.Broadcast("session.a", []byte(`{"n":4}`))
	assert.Equal(t, `{"n":4}`, read(t, conn))
}

func TestHubSubscribeMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(Config{}, zap.NewNop())
	defer h.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, h.ServeWS(ctx, w, r, "client-2"))
	}))
	defer srv.Close()

	conn := dial(t, srv)
	h.Broadcast("late", []byte("first"))
	require.NoError(t, conn.WriteJSON(map[string][]string{"subscribe": {"late"}}))
	assert.Equal(t, "first", read(t, conn))

	h.Broadcast("late", []byte("second"))
	assert.Equal(t, "second", read(t, conn))
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(Config{}, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, h.ServeWS(ctx, w, r, "client-3", "t"))
	}))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	h.Close()
	assert.Equal(t, 0, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	h := NewHub(Config{AllowedOrigins: []string{"https://app.example"}}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, h.checkOrigin(req))
}
