// Package build runs the renderer. The Orchestrator guarantees at most one
// render in flight and collapses any number of requests that arrive during a
// render into a single follow-up run. Every completed attempt becomes one
// BuildResult handed to the registered callbacks.
package build

import (
	"context"
	"time"

	"github.com/conneroisu/docpress/internal/errors"
)

// Source identifies what asked for a rebuild.
type Source string

const (
	SourceDebounce Source = "debounce"
	SourceManual   Source = "manual"
	SourceInitial  Source = "initial"
	// SourceWatcher marks results published for watcher failures; no render ran.
	SourceWatcher  Source = "watcher"
)

// RebuildRequest is a trigger token. It carries no payload: a render always
// reads the current state of the watched tree.
type RebuildRequest struct {
	Seq         uint64
	Source      Source
	RequestedAt time.Time
}

// NewRequest returns a request stamped with the current time. Seq is
// assigned by the orchestrator when left zero.
func NewRequest(source Source) RebuildRequest {
	return RebuildRequest{Source: source, RequestedAt: time.Now()}
}

// BuildStatus is the outcome of a render attempt.
type BuildStatus string

const (
	StatusPending BuildStatus = "pending"
	StatusSuccess BuildStatus = "success"
	StatusFailure BuildStatus = "failure"
)

// BuildResult represents the result of a render attempt. Values are passed
// by value; Locations is never mutated after publication.
type BuildResult struct {
	Seq               uint64
	Source            Source
	Status            BuildStatus
	StartedAt         time.Time
	FinishedAt        time.Time
	ArtifactPath      string
	ArtifactSizeBytes int64
	ErrorSummary      string
	Diagnostic        string
	Locations         []*errors.ParsedError
}

// Duration returns how long the attempt took.
func (r BuildResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// PendingResult is the neutral state before the first build completes.
func PendingResult() BuildResult {
	return BuildResult{Status: StatusPending, FinishedAt: time.Now()}
}

// BuildCallback is called when a build completes
type BuildCallback func(result BuildResult)

// Artifact describes what a successful render produced.
type Artifact struct {
	Path      string
	SizeBytes int64
}

// Renderer turns the watched tree into an artifact. Implementations must
// honour ctx cancellation.
type Renderer interface {
	Render(ctx context.Context, root string) (Artifact, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, root string) (Artifact, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, root string) (Artifact, error) {
	return f(ctx, root)
}

// RenderError is the structured failure a Renderer may return. Summary is a
// one-line message; Diagnostic is the complete text shown to viewers.
type RenderError struct {
	Summary    string
	Diagnostic string
	Cause      error
}

func (e *RenderError) Error() string {
	if e.Summary != "" {
		return e.Summary
	}
	if line := errors.FirstLine(e.Diagnostic); line != "" {
		return line
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "render failed"
}

// Unwrap returns the underlying cause.
func (e *RenderError) Unwrap() error {
	return e.Cause
}

// fullText is the diagnostic shown to viewers.
func (e *RenderError) fullText() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Error()
}
