package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrChannelClosed = errors.New("realtime channel closed")

// WebSocketChannel is a client connection to the realtime relay. One instance
// is shared by the whole process; listeners are multiplexed by event name.
type WebSocketChannel struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	logger    *slog.Logger
	listeners *listeners

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketChannel returns an unconnected client that authenticates to the
// relay with token.
func NewWebSocketChannel(url, token string, logger *slog.Logger) *WebSocketChannel {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebSocketChannel{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger:    logger.With("component", "realtime_ws"),
		listeners: newListeners(),
	}
}

// Connect dials the relay unless a connection is already open.
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("Connect: %w", ErrChannelClosed)
	}
	if c.conn != nil {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("Connect: dial %s: %s: %w", c.url, resp.Status, err)
		}
		return fmt.Errorf("Connect: dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.logger.Info("realtime channel connected", "url", c.url)

	go c.readPump(conn)
	return nil
}

func (c *WebSocketChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *WebSocketChannel) Subscribe(event string, handler func(payload []byte)) (func(), error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("Subscribe: %w", ErrChannelClosed)
	}
	return c.listeners.add(event, handler), nil
}

// Maintain redials whenever the connection has dropped, until ctx is done.
func (c *WebSocketChannel) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.IsConnected() {
				continue
			}
			if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrChannelClosed) {
				c.logger.Warn("realtime reconnect failed", "error", err)
			}
		}
	}
}

func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WebSocketChannel) readPump(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("realtime channel disconnected", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn("dropping malformed realtime frame", "error", err)
			continue
		}
		c.listeners.dispatch(env.Event, env.Data)
	}
}
