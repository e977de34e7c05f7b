// Package websocket serves the viewer push protocol. Every accepted connection
// becomes a hub session that receives the current build status immediately
// and every later one as it is published.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/hub"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/validation"
)

// Options configures a Manager.
type Options struct {
	// AllowedOrigins lists the hosts (or full origins) a viewer may connect from.
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	Logger         logging.Logger
}

func (o *Options) applyDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 16
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Manager accepts viewer connections and registers them with the hub.
//
// Invariants:
// - every registered client has exactly one write pump and one read pump
// - a client is deregistered from the hub before its connection is released
type Manager struct {
	hub        *hub.Hub
	regenerate func()
	opts       Options
	logger     logging.Logger

	nextID  atomic.Uint64
	clients sync.Map // id -> *Client

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// NewManager creates a manager. regenerate is called for every
// {"type":"regenerate"} message and may be nil.
func NewManager(h *hub.Hub, regenerate func(), opts Options) *Manager {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		hub:        h,
		regenerate: regenerate,
		opts:       opts,
		logger:     opts.Logger.WithComponent("websocket"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// The page that served the viewer is always an allowed origin.
	origin := r.Header.Get("Origin")
	allowed := append([]string{r.Host}, m.opts.AllowedOrigins...)
	if err := validation.ValidateOrigin(origin, allowed); err != nil {
		m.logger.Warn(r.Context(), errors.ErrInvalidOrigin(origin), "WebSocket connection rejected",
			"remote_addr", r.RemoteAddr, "reason", err.Error())
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was validated above against the same list.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(m.opts.ReadLimit)

	m.wg.Add(1)
	defer m.wg.Done()

	id := fmt.Sprintf("viewer-%d", m.nextID.Add(1))
	client := newClient(id, conn, m.opts.SendBuffer)

	if err := m.hub.Connect(client); err != nil {
		m.logger.Warn(r.Context(), err, "Viewer registration failed", "session", id)
		_ = conn.Close(websocket.StatusTryAgainLater, client.reason())
		return
	}

	m.clients.Store(id, client)
	defer m.clients.Delete(id)

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		m.writePump(ctx, client)
	}()

	m.readPump(ctx, client)

	m.hub.Disconnect(id)
	_ = client.Close("client disconnected")
	<-writerDone
}

// readPump reads client messages until the connection fails or closes.
func (m *Manager) readPump(ctx context.Context, client *Client) {
	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				m.logger.Debug(ctx, "Viewer closed connection", "session", client.id)
			} else if ctx.Err() == nil {
				m.logger.Debug(ctx, "WebSocket read ended", "session", client.id, "error", err.Error())
			}
			return
		}
		client.touch()
		m.processClientMessage(ctx, client, data)
	}
}

// writePump drains the send queue and pings the peer. It performs the close
// handshake once the client is closed.
func (m *Manager) writePump(ctx context.Context, client *Client) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-client.send:
			wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
			err := client.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				m.logger.Warn(ctx, errors.NewDeliveryError(client.id, err), "WebSocket write failed", "session", client.id)
				m.hub.Disconnect(client.id)
				_ = client.Close("write failed")
				_ = client.conn.CloseNow()
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
			err := client.conn.Ping(pctx)
			cancel()
			if err != nil {
				m.logger.Debug(ctx, "WebSocket ping failed", "session", client.id, "error", err.Error())
				m.hub.Disconnect(client.id)
				_ = client.Close("ping failed")
				_ = client.conn.CloseNow()
				return
			}

		case <-client.done:
			_ = client.conn.Close(websocket.StatusGoingAway, client.reason())
			return

		case <-ctx.Done():
			_ = client.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

// processClientMessage handles one viewer message. Unknown types are ignored.
func (m *Manager) processClientMessage(ctx context.Context, client *Client, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Debug(ctx, "Ignoring malformed viewer message", "session", client.id, "bytes", len(data))
		return
	}

	switch msg.Type {
	case MessageTypeRegenerate:
		m.logger.Info(ctx, "Regeneration requested by viewer", "session", client.id)
		if m.regenerate != nil {
			m.regenerate()
		}
	case MessageTypePing:
	default:
		m.logger.Debug(ctx, "Ignoring unknown viewer message", "session", client.id, "type", msg.Type)
	}
}

// ConnectedClients returns the number of sessions registered with the hub.
func (m *Manager) ConnectedClients() int {
	return m.hub.SessionCount()
}

// Viewers lists the open connections, oldest first.
func (m *Manager) Viewers() []ViewerInfo {
	viewers := []ViewerInfo{}
	m.clients.Range(func(_, value interface{}) bool {
		viewers = append(viewers, value.(*Client).Info())
		return true
	})
	sort.Slice(viewers, func(i, j int) bool {
		return viewers[i].ConnectedAt.Before(viewers[j].ConnectedAt)
	})
	return viewers
}

// Shutdown stops accepting connections, closes every session and waits for
// the connection goroutines or ctx, whichever comes first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.isShutdown.Store(true)
		// Closing the sessions lets each write pump send a close frame.
		m.hub.Close()
	})
	defer m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown returns whether Shutdown has been called.
func (m *Manager) IsShutdown() bool {
	return m.isShutdown.Load()
}
