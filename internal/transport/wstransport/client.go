// Package wstransport carries framed datagrams over WebSocket binary
// messages. Client dials a Hub, which relays every frame to its other peers.
package wstransport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/physync/internal/transport"
)

const (
	sendChSize   = 4096
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Client is a Transport backed by one WebSocket connection to a Hub.
type Client struct {
	url    string
	inbox  *transport.Inbox
	logger *slog.Logger

	mu     sync.Mutex
	conn   *ws.Conn
	closed bool
	sendCh chan []byte
	done   chan struct{}

	backoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithInitialBackoff sets the first reconnect delay.
func WithInitialBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = d
	}
}

// Dial connects to a Hub at url and starts the read and write loops.
func Dial(url string, limit int, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:     url,
		inbox:   transport.NewInbox(limit),
		logger:  slog.Default(),
		sendCh:  make(chan []byte, sendChSize),
		done:    make(chan struct{}),
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("transport", "websocket", "url", url)

	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	c.conn = conn

	go c.writeLoop(conn)
	go c.readLoop(conn)
	return c, nil
}

// SendUnordered queues b for the write loop. It drops when the queue is full.
func (c *Client) SendUnordered(b []byte, ch transport.Channel) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	select {
	case c.sendCh <- transport.Frame(ch, b):
	default:
		c.logger.Warn("send channel full, dropping message", "channel", ch.String())
	}
	return nil
}

// ReceiveQueue drains what arrived on ch.
func (c *Client) ReceiveQueue(ch transport.Channel) [][]byte {
	return c.inbox.Drain(ch)
}

// Close sends a close frame and stops the loops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}

func (c *Client) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("set write deadline failed", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				c.logger.Warn("write failed", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *ws.Conn) {
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("read failed", "error", err)
			go c.reconnect(conn)
			return
		}
		if kind != ws.BinaryMessage {
			continue
		}
		ch, payload, err := transport.Unframe(msg)
		if err != nil {
			c.logger.Debug("dropping frame", "error", err)
			continue
		}
		c.inbox.Deliver(ch, payload)
	}
}

// reconnect replaces a failed connection with exponential backoff. Both
// loops may report the same failure; only the first one reconnects.
func (c *Client) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	_ = failed.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, _, err := ws.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("reconnected", "attempt", attempt)
		go c.writeLoop(conn)
		go c.readLoop(conn)
		return
	}
	c.logger.Error("reconnect failed after max attempts", "maxAttempts", maxReconnect)
}
