package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("websocket: client closed")
	// ErrSendQueueFull is returned by Send when the outbound queue is full.
	ErrSendQueueFull = errors.New("websocket: send queue full")
)

// Client messages understood by the server.
const (
	MessageTypeRegenerate = "regenerate"
	MessageTypePing       = "ping"
)

// ClientMessage is a message read from a viewer.
type ClientMessage struct {
	Type string `json:"type"`
}

// ViewerInfo describes a connected viewer.
type ViewerInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Client is one viewer connection. It implements hub.Session: Send only
// enqueues, and the write pump owns every write to the connection.
type Client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	connectedAt  time.Time
	mu           sync.Mutex
	closed       bool
	closeReason  string
	done         chan struct{}
	lastActivity time.Time
}

func newClient(id string, conn *websocket.Conn, buffer int) *Client {
	now := time.Now()
	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, buffer),
		connectedAt:  now,
		done:         make(chan struct{}),
		lastActivity: now,
	}
}

// ID returns the session id.
func (c *Client) ID() string {
	return c.id
}

// Send enqueues payload for the write pump.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close marks the client closed. The write pump sends the close frame.
func (c *Client) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.closeReason = reason
	close(c.done)
	return nil
}

func (c *Client) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Info reports when the client connected and last sent a message.
func (c *Client) Info() ViewerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ViewerInfo{ID: c.id, ConnectedAt: c.connectedAt, LastActivity: c.lastActivity}
}
