// Package debounce coalesces bursts of file change events into single
// rebuild requests. A request is emitted once no event has arrived for a full
// window; every event inside the window pushes the deadline out again.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/watcher"
)

// DefaultWindow is the quiet interval that ends a burst.
const DefaultWindow = time.Second

// State is the coordinator's state.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
)

// Sink receives emitted requests. It must not block; Orchestrator.Trigger
// satisfies this.
type Sink func(req build.RebuildRequest)

// Coordinator is the debounce state machine. Notify may be called from any
// goroutine.
type Coordinator struct {
	window time.Duration
	sink   Sink
	logger logging.Logger

	mu       sync.Mutex
	state    State
	deadline time.Time
	timer    *time.Timer
	gen      uint64
	burst    int
	stopped  bool
}

// New creates a coordinator that emits into sink after window of quiet.
func New(window time.Duration, sink Sink, logger logging.Logger) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		window: window,
		sink:   sink,
		logger: logger.WithComponent("debounce"),
		state:  StateIdle,
	}
}

// Notify records one change event and (re)arms the timer at now+window.
func (c *Coordinator) Notify(ev watcher.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.burst++
	c.state = StatePending
	c.deadline = time.Now().Add(c.window)
	c.timer = time.AfterFunc(c.window, func() { c.fire(gen) })

	c.logger.Debug(context.Background(), "Change queued",
		"path", ev.Path,
		"type", ev.Type.String(),
		"burst", c.burst)
}

// fire emits a request unless the timer that called it has been superseded.
func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.gen || c.state != StatePending {
		c.mu.Unlock()
		return
	}
	burst := c.burst
	c.burst = 0
	c.state = StateIdle
	c.deadline = time.Time{}
	c.timer = nil
	c.mu.Unlock()

	c.logger.Info(context.Background(), "Changes settled, requesting rebuild", "events", burst)
	c.sink(build.NewRequest(build.SourceDebounce))
}

// Run forwards events to Notify in arrival order. It returns nil when events
// is closed and ctx.Err() when ctx is cancelled; either way the pending timer
// is cancelled.
func (c *Coordinator) Run(ctx context.Context, events <-chan watcher.ChangeEvent) error {
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Notify(ev)
		}
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deadline returns when the pending request will be emitted. ok is false
// while idle.
func (c *Coordinator) Deadline() (deadline time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline, c.state == StatePending
}

// Stop cancels any pending emission. Later events are ignored.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.burst = 0
	c.state = StateIdle
	c.deadline = time.Time{}
}
