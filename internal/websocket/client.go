// Package websocket keeps a send-only WebSocket connection to a report
// collector, dialing on first use and redialing after failures.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/netmetrics/internal/logging"
)

var log = logging.L("websocket")

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 64 * 1024
	initialBackoff   = time.Second
	maxBackoff       = 60 * time.Second
	jitterFactor     = 0.3
)

var ErrClosed = errors.New("websocket: client closed")

// Config describes the collector endpoint.
type Config struct {
	URL       string
	AuthToken string
}

// Client sends text messages over one connection at a time.
type Client struct {
	config Config
	dialer websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	backoff  time.Duration
	nextDial time.Time
}

func New(cfg Config) *Client {
	return &Client{
		config:  cfg,
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		backoff: initialBackoff,
	}
}

// Send writes msg as one text frame, dialing first if there is no live
// connection. A failed write drops the connection so the next Send redials.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Warn("write error", "error", err)
		c.dropLocked()
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	if wait := time.Until(c.nextDial); wait > 0 {
		return fmt.Errorf("websocket: redial backoff, next attempt in %s", wait.Round(time.Millisecond))
	}

	wsURL, err := buildURL(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}
	header := http.Header{}
	if c.config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		c.scheduleRedialLocked()
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	c.conn = conn
	c.backoff = initialBackoff
	c.nextDial = time.Time{}
	go c.readLoop(conn)

	log.Info("connected", "url", c.config.URL)
	return nil
}

// readLoop discards inbound messages so control frames are processed, and
// drops the connection when the peer goes away.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", "error", err)
			}
			c.mu.Lock()
			if c.conn == conn {
				c.dropLocked()
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) scheduleRedialLocked() {
	j := time.Duration(float64(c.backoff) * jitterFactor * (rand.Float64()*2 - 1))
	c.nextDial = time.Now().Add(c.backoff + j)
	c.backoff = min(c.backoff*2, maxBackoff)
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close sends a close frame and shuts the connection. Later Sends fail with
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.dropLocked()
	}
	return nil
}

func buildURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
