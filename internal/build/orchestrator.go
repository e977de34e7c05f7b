package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/logging"
)

// DefaultRenderTimeout bounds a single render attempt.
const DefaultRenderTimeout = 60 * time.Second

// ErrBusy is returned by BuildNow while a render is already executing.
var ErrBusy = stderrors.New("build: render already in progress")

// State is the orchestrator's externally visible state.
type State string

const (
	StateIdle State = "idle"
	// StateScheduled means a run is owed and the worker has not picked it up yet.
	StateScheduled State = "scheduled"
	StateBusy      State = "busy"
	StateBusyOwed  State = "busy_owed"
)

// Options configures an Orchestrator.
type Options struct {
	Root    string
	Timeout time.Duration
	Logger  logging.Logger
}

// Orchestrator serialises renders. Trigger records that a render is owed and
// never blocks; Run is the single worker that executes owed renders.
type Orchestrator struct {
	renderer Renderer
	root     string
	timeout  time.Duration
	logger   logging.Logger
	parser   *errors.ErrorParser
	metrics  *BuildMetrics

	// publishMu orders publications: current and the callbacks always see
	// results in the same order.
	publishMu sync.Mutex

	mu        sync.Mutex
	busy      bool
	owed      bool
	latest    RebuildRequest
	reqSeq    uint64
	buildSeq  uint64
	current   BuildResult
	callbacks []BuildCallback

	wake chan struct{}
}

// NewOrchestrator creates an orchestrator for renderer.
func NewOrchestrator(renderer Renderer, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRenderTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Orchestrator{
		renderer: renderer,
		root:     opts.Root,
		timeout:  opts.Timeout,
		logger:   opts.Logger.WithComponent("build"),
		parser:   errors.NewErrorParser(),
		metrics:  NewBuildMetrics(),
		current:  PendingResult(),
		wake:     make(chan struct{}, 1),
	}
}

// AddCallback adds a callback to be called when builds complete. Callbacks run
// in registration order, one publication at a time, and must not call Publish.
func (o *Orchestrator) AddCallback(callback BuildCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, callback)
}

// Trigger records a rebuild request. If a render is already owed the request
// collapses into it; if the worker is idle it is woken. Trigger never blocks.
func (o *Orchestrator) Trigger(req RebuildRequest) {
	o.mu.Lock()
	o.reqSeq++
	if req.Seq == 0 {
		req.Seq = o.reqSeq
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	collapsed := o.owed
	o.owed = true
	o.latest = req
	busy := o.busy
	o.mu.Unlock()

	if collapsed {
		o.metrics.RecordCollapsed()
		o.logger.Debug(context.Background(), "Rebuild request collapsed", "seq", req.Seq, "source", string(req.Source))
		return
	}
	if !busy {
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
}

// Run executes owed renders one at a time until ctx is cancelled. A renderer
// failure never ends the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wake:
		}

		for {
			req, ok := o.take()
			if !ok {
				break
			}
			o.execute(ctx, req)
			if ctx.Err() != nil {
				o.release()
				return ctx.Err()
			}
		}
	}
}

// take claims the owed run, if any, and marks the worker busy.
func (o *Orchestrator) take() (RebuildRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.owed {
		o.busy = false
		return RebuildRequest{}, false
	}
	o.owed = false
	o.busy = true
	return o.latest, true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

// BuildNow renders synchronously on the caller's goroutine. It is meant for
// one-shot use such as the build command, where Run is not running.
func (o *Orchestrator) BuildNow(ctx context.Context, req RebuildRequest) (BuildResult, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return BuildResult{}, ErrBusy
	}
	o.busy = true
	o.reqSeq++
	if req.Seq == 0 {
		req.Seq = o.reqSeq
	}
	o.mu.Unlock()

	result := o.execute(ctx, req)

	o.mu.Lock()
	o.busy = false
	owed := o.owed
	o.mu.Unlock()
	if owed {
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
	return result, nil
}

// State reports whether a render is running and whether another is owed.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.busy && o.owed:
		return StateBusyOwed
	case o.busy:
		return StateBusy
	case o.owed:
		return StateScheduled
	default:
		return StateIdle
	}
}

// Current returns the most recently completed result.
func (o *Orchestrator) Current() BuildResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Metrics returns a snapshot of the build metrics.
func (o *Orchestrator) Metrics() MetricsSnapshot {
	return o.metrics.GetSnapshot()
}

func (o *Orchestrator) execute(ctx context.Context, req RebuildRequest) BuildResult {
	o.mu.Lock()
	o.buildSeq++
	seq := o.buildSeq
	o.mu.Unlock()

	op := logging.StartOperation(o.logger, "render")
	result := BuildResult{
		Seq:       seq,
		Source:    req.Source,
		StartedAt: time.Now(),
	}

	artifact, straggler, err := o.render(ctx)
	result.FinishedAt = time.Now()

	if err == nil {
		result.Status = StatusSuccess
		result.ArtifactPath = artifact.Path
		result.ArtifactSizeBytes = artifact.SizeBytes
		op.End(ctx, "seq", seq, "source", string(req.Source), "artifact_size_bytes", artifact.SizeBytes)
	} else {
		result.Status = StatusFailure
		result.ErrorSummary, result.Diagnostic = describeFailure(err)
		result.Locations = o.parser.Locations(result.Diagnostic)
		op.EndWithError(ctx, err, "seq", seq, "source", string(req.Source))
	}

	o.metrics.RecordBuild(result)
	o.publish(result)

	if straggler != nil {
		o.awaitAbandoned(ctx, straggler, seq)
	}
	return result
}

// awaitAbandoned blocks until a renderer that outlived its deadline returns,
// so the next owed render never overlaps it. The worker stays busy meanwhile.
func (o *Orchestrator) awaitAbandoned(ctx context.Context, straggler <-chan renderOutcome, seq uint64) {
	o.logger.Debug(ctx, "Waiting for timed-out renderer to exit", "seq", seq)
	start := time.Now()
	select {
	case <-straggler:
		o.logger.Debug(ctx, "Timed-out renderer exited", "seq", seq, "waited", time.Since(start).String())
	case <-ctx.Done():
	}
}

// Publish hands an externally produced result, such as a fatal watcher
// condition, to the callbacks as if a build had completed.
func (o *Orchestrator) Publish(result BuildResult) {
	o.mu.Lock()
	if result.Seq == 0 {
		o.buildSeq++
		result.Seq = o.buildSeq
	}
	o.mu.Unlock()
	o.publish(result)
}

func (o *Orchestrator) publish(result BuildResult) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	o.mu.Lock()
	o.current = result
	callbacks := make([]BuildCallback, len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.mu.Unlock()

	for _, callback := range callbacks {
		callback(result)
	}
}

type renderOutcome struct {
	artifact Artifact
	err      error
}

// render runs the renderer under the render timeout. The renderer runs on its
// own goroutine so a renderer that ignores cancellation still yields a
// timeout failure instead of stalling the worker. When the renderer is still
// running on return, the channel it will report on is returned as well.
func (o *Orchestrator) render(ctx context.Context) (Artifact, <-chan renderOutcome, error) {
	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan renderOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- renderOutcome{err: &RenderError{
					Summary:    fmt.Sprintf("renderer panic: %v", r),
					Diagnostic: fmt.Sprintf("renderer panic: %v\n\n%s", r, debug.Stack()),
				}}
			}
		}()
		artifact, err := o.renderer.Render(rctx, o.root)
		done <- renderOutcome{artifact: artifact, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && stderrors.Is(rctx.Err(), context.DeadlineExceeded) {
			return Artifact{}, nil, o.timeoutError(out.err)
		}
		return out.artifact, nil, out.err
	case <-rctx.Done():
		if stderrors.Is(rctx.Err(), context.DeadlineExceeded) {
			o.logger.Warn(ctx, rctx.Err(), "Renderer did not return before the deadline", "timeout", o.timeout.String())
			return Artifact{}, done, o.timeoutError(rctx.Err())
		}
		return Artifact{}, done, &RenderError{Summary: "render cancelled", Cause: rctx.Err()}
	}
}

func (o *Orchestrator) timeoutError(cause error) error {
	o.metrics.RecordTimeout()
	summary := fmt.Sprintf("render timed out after %s", o.timeout)
	return &RenderError{
		Summary:    summary,
		Diagnostic: summary + "\n\n" + cause.Error(),
		Cause:      cause,
	}
}

// describeFailure derives the one-line summary and the full diagnostic.
func describeFailure(err error) (summary, diagnostic string) {
	var re *RenderError
	if stderrors.As(err, &re) {
		summary = re.Summary
		diagnostic = re.fullText()
	}
	if diagnostic == "" {
		diagnostic = err.Error()
	}
	if summary == "" {
		summary = errors.FirstLine(diagnostic)
	}
	return summary, diagnostic
}
