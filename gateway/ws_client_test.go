package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type wsTestServer struct {
	*httptest.Server
	upgrader    websocket.Upgrader
	mu          sync.Mutex
	conns       []*websocket.Conn
	connCount   atomic.Int32
	closeOnDial atomic.Bool
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.connCount.Add(1)
		if s.closeOnDial.Load() {
			conn.Close()
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(messageType, data)
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsTestServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func TestWSClient_ConnectEchoDisconnect(t *testing.T) {
	server := newWSTestServer(t)

	var mu sync.Mutex
	var received []string
	client := NewWSClient(zap.NewNop(), WSConfig{
		URL: server.url(),
		Handler: func(_ int, data []byte) {
			mu.Lock()
			received = append(received, string(data))
			mu.Unlock()
		},
	})

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, ModeActive, client.Mode())
	assert.True(t, client.IsConnected())
	assert.False(t, client.IsDisconnected())

	require.NoError(t, client.SendText([]byte("hello")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx))
	assert.Equal(t, ModeClosed, client.Mode())
}

func TestWSClient_ReconnectAfterServerClose(t *testing.T) {
	server := newWSTestServer(t)

	var reconnected atomic.Int32
	client := NewWSClient(zap.NewNop(), WSConfig{
		URL: server.url(),
		PostReconnection: func() {
			reconnected.Add(1)
		},
		Reconnect: ReconnectConfig{
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
			Timeout:       10 * time.Second,
		},
	})
	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, int32(1), server.connCount.Load())

	server.dropAll()

	// The controller stays alive through the outage.
	require.Eventually(t, func() bool {
		return client.Mode() == ModeReconnecting || client.Mode() == ModeActive
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, client.IsActive())

	require.Eventually(t, func() bool {
		return client.ReconnectCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), reconnected.Load())
	assert.Equal(t, int32(2), server.connCount.Load())
	assert.Equal(t, ModeActive, client.Mode())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx))
}

func TestWSClient_SendWhileReconnectingNotActive(t *testing.T) {
	server := newWSTestServer(t)

	client := NewWSClient(zap.NewNop(), WSConfig{
		URL: server.url(),
		Reconnect: ReconnectConfig{
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
			Timeout:       10 * time.Second,
		},
	})
	require.NoError(t, client.Connect(context.Background()))

	server.dropAll()
	require.Eventually(t, func() bool {
		return client.Mode() == ModeReconnecting
	}, 2*time.Second, 5*time.Millisecond)

	err := client.SendText([]byte("while down"))
	require.ErrorIs(t, err, ErrNotActive)
	assert.True(t, client.IsActive(), "controller still alive while reconnecting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx))
}

func TestWSClient_ConnectTwiceRefused(t *testing.T) {
	server := newWSTestServer(t)
	client := NewWSClient(zap.NewNop(), WSConfig{URL: server.url()})
	require.NoError(t, client.Connect(context.Background()))
	assert.Error(t, client.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx))
}

func TestWSClient_SendBeforeConnectNotActive(t *testing.T) {
	client := NewWSClient(zap.NewNop(), WSConfig{URL: "ws://127.0.0.1:0"})
	assert.ErrorIs(t, client.SendText([]byte("x")), ErrNotActive)
	assert.Equal(t, ModeDisconnected, client.Mode())
}
