package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	maxMessageSize = 1 << 20
	sendBufferSize = 64
)

// Client is one WebSocket connection to the gateway.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	authed atomic.Bool
}

// NewClient wraps an upgraded connection. When no gateway token is
// configured, clients are trusted immediately.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
	if s.cfg.Gateway.Token == "" {
		c.authed.Store(true)
	}
	return c
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// Authenticated reports whether the client has presented a valid token.
func (c *Client) Authenticated() bool { return c.authed.Load() }

func (c *Client) setAuthenticated() { c.authed.Store(true) }

// SendResponse queues a response frame for delivery.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	c.enqueue(resp)
}

// SendEvent queues an event frame for delivery.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.enqueue(&event)
}

func (c *Client) enqueue(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal ws frame", "client", c.id, "error", err)
		return
	}
	select {
	case <-c.closed:
	case c.send <- data:
	default:
		// Slow consumer. Dropping beats blocking the whole gateway.
		slog.Warn("ws send buffer full, dropping frame", "client", c.id)
	}
}

// Close tears down the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Run services the connection until it drops or ctx is cancelled. Requests
// are dispatched in order; responses and events go out via the write pump.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws read error", "client", c.id, "error", err)
			}
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.SendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "malformed frame"))
			continue
		}

		c.server.router.Dispatch(ctx, c, &req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
