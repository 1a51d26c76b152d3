package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSChannel maps realtime events onto NATS subjects of the same name.
type NATSChannel struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

func NewNATSChannel(url string, logger *slog.Logger) *NATSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSChannel{
		url:    url,
		logger: logger.With("component", "realtime_nats"),
	}
}

func (c *NATSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	opts := []nats.Option{
		nats.Name("samaki-checkout"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		return fmt.Errorf("Connect: %w", err)
	}
	c.conn = conn
	c.logger.Info("realtime channel connected", "url", conn.ConnectedUrl())
	return nil
}

func (c *NATSChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *NATSChannel) Subscribe(event string, handler func(payload []byte)) (func(), error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("Subscribe: %w", nats.ErrConnectionClosed)
	}

	sub, err := conn.Subscribe(event, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("Subscribe: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
				c.logger.Warn("nats unsubscribe failed", "subject", event, "error", err)
			}
		})
	}, nil
}

func (c *NATSChannel) Publish(_ context.Context, event string, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("Publish: %w", nats.ErrConnectionClosed)
	}
	if err := conn.Publish(event, data); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

func (c *NATSChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
