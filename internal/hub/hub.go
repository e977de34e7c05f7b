// Package hub holds the current build result and fans every new result out to
// the connected viewer sessions.
package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/logging"
)

// Session is one connected viewer. Send must not block: implementations
// enqueue the payload and report an error when they cannot.
type Session interface {
	ID() string
	Send(payload []byte) error
	Close(reason string) error
}

// Hub is the broadcast registry. One mutex serialises Connect, Disconnect
// and Publish, so every session sees results in publish order and a session
// connecting concurrently with a publish gets either the old result followed
// by the new one, or only the new one.
type Hub struct {
	logger logging.Logger

	mu       sync.Mutex
	sessions map[string]Session
	current  build.BuildResult
	encoded  []byte
	closed   bool
}

// New creates a hub whose current result is pending.
func New(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Hub{
		logger:   logger.WithComponent("hub"),
		sessions: make(map[string]Session),
	}
	h.setCurrent(build.PendingResult())
	return h
}

// setCurrent must be called with mu held.
func (h *Hub) setCurrent(result build.BuildResult) {
	h.current = result
	data, err := NewPayload(result).Encode()
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to encode build payload", "seq", result.Seq)
		return
	}
	h.encoded = data
}

// Connect registers s and sends it the current result. If that first send
// fails the session is closed and not registered.
func (h *Hub) Connect(s Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = s.Close("server shutting down")
		return errors.NewDeliveryError(s.ID(), fmt.Errorf("hub is closed"))
	}
	if err := s.Send(h.encoded); err != nil {
		h.mu.Unlock()
		h.logger.Warn(context.Background(), err, "Initial status delivery failed", "session", s.ID())
		_ = s.Close("delivery failed")
		return errors.NewDeliveryError(s.ID(), err)
	}
	h.sessions[s.ID()] = s
	count := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info(context.Background(), "Viewer connected", "session", s.ID(), "sessions", count)
	return nil
}

// Disconnect removes the session with id. It is a no-op for unknown ids and
// reports whether a session was removed.
func (h *Hub) Disconnect(id string) bool {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	count := len(h.sessions)
	h.mu.Unlock()

	if ok {
		h.logger.Info(context.Background(), "Viewer disconnected", "session", id, "sessions", count)
	}
	return ok
}

// Publish stores result as current and pushes it to every session. A session
// whose send fails is removed and closed; the others still receive it.
func (h *Hub) Publish(result build.BuildResult) {
	h.mu.Lock()
	h.setCurrent(result)
	payload := h.encoded

	var failed []Session
	for id, s := range h.sessions {
		if err := s.Send(payload); err != nil {
			h.logger.Warn(context.Background(), errors.NewDeliveryError(id, err), "Dropping viewer", "session", id)
			delete(h.sessions, id)
			failed = append(failed, s)
		}
	}
	delivered := len(h.sessions)
	h.mu.Unlock()

	for _, s := range failed {
		_ = s.Close("delivery failed")
	}

	h.logger.Debug(context.Background(), "Published build result",
		"seq", result.Seq,
		"status", string(result.Status),
		"sessions", delivered,
		"dropped", len(failed))
}

// Current returns the current result.
func (h *Hub) Current() build.BuildResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// CurrentPayload returns the wire form of the current result.
func (h *Hub) CurrentPayload() Payload {
	return NewPayload(h.Current())
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// SessionIDs returns the registered session ids in sorted order.
func (h *Hub) SessionIDs() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close closes every session and rejects later connects.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]Session)
	h.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close("server shutting down")
	}
}
