package kraken

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/tides/pkg/logger"
)

// StreamState tracks where a connection is in its lifecycle.
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Stream timing. The process is expected to outlive transient network
// failures, so reconnection retries forever with a fixed delay.
const (
	defaultReconnectDelay = 5 * time.Second
	pingInterval          = 10 * time.Second
	readTimeout           = 30 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// StreamClient is a persistent, auto-reconnecting websocket connection.
// Each stream (orders, bars, trades) runs its own StreamClient on its own
// goroutine. On every disconnect, error or normal close, the reset hook
// fires exactly once before the next connection attempt, so callers can
// clear state that is only valid for the lifetime of one connection.
type StreamClient struct {
	name           string
	url            string
	logger         *logger.Logger
	reconnectDelay time.Duration

	// onOpen runs after the transport connects and before the state moves
	// to streaming; it sends subscription frames. An error aborts this
	// connection attempt and triggers a reconnect.
	onOpen    func(c *StreamClient) error
	onMessage func(data []byte)
	onReset   func()

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// StreamConfig configures a StreamClient.
type StreamConfig struct {
	Name           string
	URL            string
	ReconnectDelay time.Duration
	OnOpen         func(c *StreamClient) error
	OnMessage      func(data []byte)
	OnReset        func()
}

// NewStreamClient creates a stream client. Call Start to begin connecting.
func NewStreamClient(cfg StreamConfig, log *logger.Logger) *StreamClient {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &StreamClient{
		name:           cfg.Name,
		url:            cfg.URL,
		logger:         log.WithField("stream", cfg.Name),
		reconnectDelay: delay,
		onOpen:         cfg.OnOpen,
		onMessage:      cfg.OnMessage,
		onReset:        cfg.OnReset,
		stopCh:         make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *StreamClient) State() StreamState {
	return StreamState(c.state.Load())
}

func (c *StreamClient) setState(s StreamState) {
	c.state.Store(int32(s))
}

// Start launches the connect-read-reconnect loop on a background goroutine.
func (c *StreamClient) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
}

// Close stops the client and waits for the loop to exit.
func (c *StreamClient) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
	c.wg.Wait()
}

func (c *StreamClient) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *StreamClient) run() {
	defer c.wg.Done()
	defer c.setState(StateDisconnected)

	for {
		if c.stopped() {
			return
		}

		c.connect()

		// One reset per disconnect, whether the dial failed, the
		// subscription failed or an established connection dropped.
		c.setState(StateDisconnected)
		if c.onReset != nil {
			c.onReset()
		}

		if c.stopped() {
			return
		}

		c.logger.Infof("Reconnecting after %s", c.reconnectDelay)
		select {
		case <-c.stopCh:
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// connect performs one full connection lifecycle and returns when the
// connection is gone.
func (c *StreamClient) connect() {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		c.logger.WithError(err).Error("Stream connect failed")
		return
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	c.setState(StateSubscribed)
	if c.onOpen != nil {
		if err := c.onOpen(c); err != nil {
			c.logger.WithError(err).Error("Stream subscribe failed")
			return
		}
	}

	c.setState(StateStreaming)
	c.logger.Info("Stream connected")

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.stopped() {
				c.logger.WithError(err).Warn("Stream read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

func (c *StreamClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.connMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendJSON writes a JSON frame to the current connection.
func (c *StreamClient) SendJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(v)
}
