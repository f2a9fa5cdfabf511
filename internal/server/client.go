// Package server adapts individual WebSocket connections to the Endpoint
// interface, handling read/write pumps, rate limiting, and lifecycle control.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the peer as gone.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is the WebSocket implementation of Endpoint. The registry sees it
// only through Send and IsOpen; the pumps own the underlying connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	registry *Registry
	addr     string
	logger   *slog.Logger

	mu    sync.Mutex
	state ConnState

	maxMessageSize int64
	rateLimiter    *rateLimiter
	settings       *connSettings
}

// newClient wraps conn for the registry. The client starts in StateConnecting
// and accepts frames only once activated.
func newClient(conn *websocket.Conn, registry *Registry, addr string, settings *connSettings) *Client {
	if conn != nil {
		conn.SetReadLimit(settings.maxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, settings.sendBufferSize),
		registry:       registry,
		addr:           addr,
		logger:         registry.logger.With("conn", id, "addr", addr),
		state:          StateConnecting,
		maxMessageSize: settings.maxMessageSize,
		rateLimiter:    newRateLimiter(settings.rateLimit.Burst, settings.rateLimit.RefillInterval),
		settings:       settings,
	}
}

// ID returns the connection's generated identifier.
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the client is active.
func (c *Client) IsOpen() bool {
	return c.State() == StateActive
}

// Send queues frame for the write pump without blocking. A client whose
// queue is full is a slow consumer: the frame is refused and the client is
// closed, which removes it from the registry through the read pump.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return ErrEndpointClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("Client evicted due to full send buffer", "buffer", cap(c.send))
		c.closeLocked()
		// The write pump may be stuck on the stalled peer; dropping the
		// transport unblocks it and ends the read pump.
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return ErrSendBufferFull
	}
}

// Close marks the client closed and tears down the transport.
func (c *Client) Close() error {
	c.markClosed()
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		return err
	}
	return nil
}

// activate moves a connecting client to StateActive.
func (c *Client) activate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateActive
	return true
}

// markClosed moves the client to StateClosed and closes the send queue so the
// write pump drains and exits. It reports whether this call did the closing.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() bool {
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	close(c.send)
	return true
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// logReadError records why the read loop stopped.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)

	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("Client closed the connection", "err", err)

	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug("Connection closed", "err", err)

	case websocket.IsUnexpectedCloseError(err):
		c.logger.Info("Unexpected WebSocket close", "err", err)

	default:
		c.logger.Warn("WebSocket read error", "err", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.registry.metrics.rateLimited.Add(1)
		c.logger.Warn("Rate limit exceeded; discarding message",
			"burst", c.settings.rateLimit.Burst,
			"interval", c.settings.rateLimit.RefillInterval,
		)
		return false
	}
	return true
}

// readPump delivers inbound frames to the registry in arrival order. When the
// connection ends for any reason it removes the client exactly once.
func (c *Client) readPump() {
	defer func() {
		c.markClosed()
		c.registry.Remove(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.registry.Dispatch(rawMessage, c)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the WebSocket connection, logging only unexpected errors
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("Error closing connection", "err", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", "err", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", "err", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("Error writing close message", "err", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing ping message", "err", err)
		}
		return false
	}
	return true
}
