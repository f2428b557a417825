// Package gateway holds the transport layer: a reconnecting WebSocket
// client and a signed REST client venue adapters build on.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnectionMode is the single source of truth for the client's state,
// stored in one atomic.
type ConnectionMode uint32

const (
	ModeDisconnected ConnectionMode = iota
	ModeConnecting
	ModeActive
	ModeReconnecting
	ModeDisconnect // shutdown requested, close handshake in progress
	ModeClosed
)

func (m ConnectionMode) String() string {
	switch m {
	case ModeDisconnected:
		return "Disconnected"
	case ModeConnecting:
		return "Connecting"
	case ModeActive:
		return "Active"
	case ModeReconnecting:
		return "Reconnecting"
	case ModeDisconnect:
		return "Disconnect"
	case ModeClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ConnectionMode(%d)", m)
	}
}

// ErrNotActive is returned by Send when the connection cannot take writes.
var ErrNotActive = errors.New("not active")

// ReconnectConfig shapes the backoff between reconnect attempts.
type ReconnectConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	// JitterFrac adds +/- this fraction of the delay.
	JitterFrac float64 `yaml:"jitter_frac"`
	// Timeout bounds the total time spent reconnecting before giving up.
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		JitterFrac:    0.1,
		Timeout:       5 * time.Minute,
	}
}

// WSConfig configures one WebSocket connection.
type WSConfig struct {
	URL     string
	Headers http.Header

	// Handler receives every text and binary frame. Binary frames are
	// forwarded verbatim.
	Handler func(messageType int, data []byte)
	// PostReconnection runs after each successful reconnect so callers can
	// reinstall subscriptions.
	PostReconnection func()

	// HeartbeatInterval sends HeartbeatMsg as a text frame on this cadence.
	// Zero disables the heartbeat.
	HeartbeatInterval time.Duration
	HeartbeatMsg      string

	Reconnect      ReconnectConfig
	WriteQueueSize int
	ReadTimeout    time.Duration
}

type writerCommand struct {
	messageType int
	data        []byte
}

// WSClient is a reconnecting WebSocket connection. Send enqueues and
// returns immediately; the writer task owns the socket for writes, the
// reader task for reads, and the controller drives reconnection.
type WSClient struct {
	log  *zap.Logger
	cfg  WSConfig
	mode atomic.Uint32

	writeQ chan writerCommand
	done   chan struct{}
	closed chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn

	reconnects atomic.Uint64
}

func NewWSClient(log *zap.Logger, cfg WSConfig) *WSClient {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = 64
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Reconnect.InitialDelay <= 0 {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	return &WSClient{
		log:    log,
		cfg:    cfg,
		writeQ: make(chan writerCommand, cfg.WriteQueueSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *WSClient) Mode() ConnectionMode { return ConnectionMode(c.mode.Load()) }

// IsActive reports whether the controller is alive: the connection is
// either established or being re-established.
func (c *WSClient) IsActive() bool {
	m := c.Mode()
	return m == ModeActive || m == ModeReconnecting
}

func (c *WSClient) IsConnected() bool    { return c.Mode() == ModeActive }
func (c *WSClient) IsDisconnected() bool { return !c.IsConnected() }

// ReconnectCount reports completed reconnections (for metrics and tests).
func (c *WSClient) ReconnectCount() uint64 { return c.reconnects.Load() }

// Connect dials once and spawns the controller. Subsequent drops reconnect
// automatically until Disconnect is called or the reconnect timeout lapses.
func (c *WSClient) Connect(ctx context.Context) error {
	if !c.mode.CompareAndSwap(uint32(ModeDisconnected), uint32(ModeConnecting)) {
		return fmt.Errorf("ws client: connect in mode %s", c.Mode())
	}
	conn, err := c.dial(ctx)
	if err != nil {
		c.mode.Store(uint32(ModeDisconnected))
		return err
	}
	c.install(conn)
	c.mode.Store(uint32(ModeActive))
	go c.controller()
	go c.writerLoop()
	return nil
}

// Send enqueues a frame. It fails fast with ErrNotActive unless the
// connection is Active, and with a queue-full error under backpressure.
func (c *WSClient) Send(messageType int, data []byte) error {
	if c.Mode() != ModeActive {
		return fmt.Errorf("ws client: %w (mode %s)", ErrNotActive, c.Mode())
	}
	select {
	case c.writeQ <- writerCommand{messageType: messageType, data: data}:
		return nil
	default:
		return fmt.Errorf("ws client: write queue full (%d)", c.cfg.WriteQueueSize)
	}
}

func (c *WSClient) SendText(data []byte) error   { return c.Send(websocket.TextMessage, data) }
func (c *WSClient) SendBinary(data []byte) error { return c.Send(websocket.BinaryMessage, data) }
func (c *WSClient) SendPong(data []byte) error   { return c.Send(websocket.PongMessage, data) }

// Disconnect requests shutdown and blocks until the mode reaches Closed.
func (c *WSClient) Disconnect(ctx context.Context) error {
	for {
		m := c.Mode()
		if m == ModeClosed {
			return nil
		}
		if m == ModeDisconnected {
			c.mode.Store(uint32(ModeClosed))
			return nil
		}
		if m == ModeDisconnect {
			// Another Disconnect is already driving the close handshake.
			select {
			case <-c.closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if c.mode.CompareAndSwap(uint32(m), uint32(ModeDisconnect)) {
			break
		}
	}
	close(c.done)
	c.closeConn()
	select {
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ws client: dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

func (c *WSClient) install(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		// Peer pings are answered by the writer task.
		c.enqueuePong([]byte(appData))
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *WSClient) enqueuePong(data []byte) {
	select {
	case c.writeQ <- writerCommand{messageType: websocket.PongMessage, data: data}:
	default:
	}
}

func (c *WSClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *WSClient) closeConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// controller runs the read loop and drives reconnection when it exits.
func (c *WSClient) controller() {
	defer close(c.closed)
	var heartbeat *time.Ticker
	var heartbeatCh <-chan time.Time
	if c.cfg.HeartbeatInterval > 0 {
		heartbeat = time.NewTicker(c.cfg.HeartbeatInterval)
		heartbeatCh = heartbeat.C
		defer heartbeat.Stop()
	}

	readErr := make(chan error, 1)
	go c.readLoop(readErr)

	for {
		select {
		case <-c.done:
			c.mode.Store(uint32(ModeClosed))
			return
		case <-heartbeatCh:
			if err := c.SendText([]byte(c.cfg.HeartbeatMsg)); err != nil {
				c.log.Debug("ws client: heartbeat skipped", zap.Error(err))
			}
		case err := <-readErr:
			if c.Mode() == ModeDisconnect {
				c.mode.Store(uint32(ModeClosed))
				return
			}
			c.log.Warn("ws client: connection lost", zap.Error(err))
			c.mode.Store(uint32(ModeReconnecting))
			c.closeConn()
			if !c.reconnect() {
				c.mode.Store(uint32(ModeClosed))
				return
			}
			c.mode.Store(uint32(ModeActive))
			c.reconnects.Add(1)
			if c.cfg.PostReconnection != nil {
				c.cfg.PostReconnection()
			}
			readErr = make(chan error, 1)
			go c.readLoop(readErr)
		}
	}
}

// reconnect retries with exponential backoff and jitter until it succeeds,
// the overall timeout lapses or shutdown is requested.
func (c *WSClient) reconnect() bool {
	rc := c.cfg.Reconnect
	deadline := time.Now().Add(rc.Timeout)
	delay := rc.InitialDelay
	for attempt := 1; ; attempt++ {
		jittered := jitter(delay, rc.JitterFrac)
		select {
		case <-c.done:
			return false
		case <-time.After(jittered):
		}
		if rc.Timeout > 0 && time.Now().After(deadline) {
			c.log.Error("ws client: reconnect timeout exhausted",
				zap.Int("attempts", attempt-1))
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.install(conn)
			c.log.Info("ws client: reconnected", zap.Int("attempt", attempt))
			return true
		}
		c.log.Warn("ws client: reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(err))
		delay = time.Duration(math.Min(
			float64(delay)*rc.BackoffFactor,
			float64(rc.MaxDelay)))
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	span := float64(d) * frac
	return d + time.Duration((rand.Float64()*2-1)*span)
}

// readLoop forwards frames to the handler until the connection errors.
func (c *WSClient) readLoop(readErr chan<- error) {
	conn := c.current()
	if conn == nil {
		readErr <- errors.New("ws client: no connection")
		return
	}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		if c.cfg.Handler != nil {
			c.cfg.Handler(messageType, data)
		}
	}
}

// writerLoop owns all socket writes.
func (c *WSClient) writerLoop() {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.writeQ:
			conn := c.current()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(cmd.messageType, cmd.data); err != nil {
				c.log.Warn("ws client: write failed", zap.Error(err))
			}
		}
	}
}
