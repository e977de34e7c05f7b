package debounce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/watcher"
)

type requestSink struct {
	mu       sync.Mutex
	requests []build.RebuildRequest
}

func (s *requestSink) trigger(req build.RebuildRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *requestSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func change(path string) watcher.ChangeEvent {
	return watcher.ChangeEvent{Type: watcher.EventTypeModified, Path: path, ObservedAt: time.Now()}
}

func TestBurstEmitsOneRequest(t *testing.T) {
	sink := &requestSink{}
	c := New(100*time.Millisecond, sink.trigger, nil)

	for i := 0; i < 10; i++ {
		c.Notify(change("/doc/a.html"))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, StatePending, c.State())

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, build.SourceDebounce, sink.requests[0].Source)
}

func TestSpacedEventsEmitOneRequestEach(t *testing.T) {
	sink := &requestSink{}
	c := New(30*time.Millisecond, sink.trigger, nil)

	for i := 1; i <= 3; i++ {
		c.Notify(change("/doc/b.css"))
		require.Eventually(t, func() bool { return sink.count() == i }, 2*time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, 3, sink.count())
}

func TestSlidingWindow(t *testing.T) {
	sink := &requestSink{}
	window := 100 * time.Millisecond
	c := New(window, sink.trigger, nil)

	c.Notify(change("/doc/a.html"))
	first, ok := c.Deadline()
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	c.Notify(change("/doc/b.css"))
	second, ok := c.Deadline()
	require.True(t, ok)
	assert.True(t, second.After(first))

	// The original deadline passes without an emission.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, sink.count())

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, ok = c.Deadline()
	assert.False(t, ok)
}

func TestStaleTimerIgnored(t *testing.T) {
	sink := &requestSink{}
	c := New(50*time.Millisecond, sink.trigger, nil)

	c.Notify(change("/doc/a.html"))
	c.mu.Lock()
	staleGen := c.gen
	c.mu.Unlock()
	c.Notify(change("/doc/a.html"))

	c.fire(staleGen)
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, StatePending, c.State())

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopCancelsPending(t *testing.T) {
	sink := &requestSink{}
	c := New(30*time.Millisecond, sink.trigger, nil)

	c.Notify(change("/doc/a.html"))
	c.Stop()
	c.Notify(change("/doc/a.html"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, StateIdle, c.State())
}

func TestRunConsumesEvents(t *testing.T) {
	sink := &requestSink{}
	c := New(30*time.Millisecond, sink.trigger, nil)
	events := make(chan watcher.ChangeEvent)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), events) }()

	events <- change("/doc/a.html")
	events <- change("/doc/b.css")
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	close(events)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sink := &requestSink{}
	c := New(time.Hour, sink.trigger, nil)
	events := make(chan watcher.ChangeEvent, 1)
	events <- change("/doc/a.html")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, events) }()

	require.Eventually(t, func() bool { return c.State() == StatePending }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestDefaultWindow(t *testing.T) {
	c := New(0, func(build.RebuildRequest) {}, nil)
	assert.Equal(t, DefaultWindow, c.window)
}

// The scenario from the live loop: two edits 200ms apart inside a one second
// window become a single render.
func TestTwoEditsWithinWindowRenderOnce(t *testing.T) {
	var renders int
	var mu sync.Mutex
	o := build.NewOrchestrator(build.RendererFunc(func(ctx context.Context, root string) (build.Artifact, error) {
		mu.Lock()
		renders++
		mu.Unlock()
		return build.Artifact{SizeBytes: 45000}, nil
	}), build.Options{Root: "/doc"})

	results := make(chan build.BuildResult, 4)
	o.AddCallback(func(r build.BuildResult) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.Run(ctx) }()

	c := New(time.Second, o.Trigger, nil)
	c.Notify(change("/doc/a.html"))
	time.Sleep(200 * time.Millisecond)
	c.Notify(change("/doc/b.css"))

	select {
	case r := <-results:
		assert.Equal(t, build.StatusSuccess, r.Status)
		assert.Equal(t, int64(45000), r.ArtifactSizeBytes)
	case <-time.After(5 * time.Second):
		t.Fatal("no build result")
	}

	time.Sleep(1200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, renders)
}
