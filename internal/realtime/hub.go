package realtime

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
)

// ErrNoSubscribers is returned by Publish while no relay client is connected.
var ErrNoSubscribers = errors.New("no realtime subscribers connected")

// Hub is the relay side of the websocket channel: it fans every published
// envelope out to all connected clients. Clients must present the relay token
// as a bearer credential.
type Hub struct {
	logger   *slog.Logger
	token    []byte
	upgrader websocket.Upgrader

	register   chan *hubClient
	unregister chan *hubClient
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds a hub that admits only clients sending token. An empty token
// admits nobody.
func NewHub(logger *slog.Logger, token string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "realtime_hub"),
		token:  []byte(token),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*hubClient]struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	h.logger.Info("realtime hub started")
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("relay client registered", "client_id", c.id, "total", total)

		case c := <-h.unregister:
			h.remove(c, "disconnected")

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Publish queues data for every connected client under event. It fails with
// ErrNoSubscribers when nobody would receive it.
func (h *Hub) Publish(ctx context.Context, event string, data []byte) error {
	msg, err := encodeEnvelope(event, data)
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}

	select {
	case <-h.done:
		return fmt.Errorf("Publish: %w", ErrChannelClosed)
	default:
	}
	if h.ClientCount() == 0 {
		return fmt.Errorf("Publish: %w", ErrNoSubscribers)
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return fmt.Errorf("Publish: %w", ErrChannelClosed)
	case <-ctx.Done():
		return fmt.Errorf("Publish: %w", ctx.Err())
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("relay client rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &hubClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) authorized(r *http.Request) bool {
	if len(h.token) == 0 {
		return false
	}
	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), h.token) == 1
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c, "send buffer full")
	}
}

func (h *Hub) remove(c *hubClient, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	close(c.send)
	delete(h.clients, c)
	h.logger.Info("relay client unregistered", "client_id", c.id, "reason", reason, "total", len(h.clients))
}

// readPump only drains control frames; relay clients never send data.
func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
