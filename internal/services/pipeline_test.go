package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/hub"
)

const testWindow = 300 * time.Millisecond

// docRenderer pretends to convert a.html: a document containing "<broken"
// fails with a located diagnostic, anything else yields a 45000 byte artifact.
type docRenderer struct {
	calls atomic.Int32
}

func (d *docRenderer) Render(ctx context.Context, root string) (build.Artifact, error) {
	d.calls.Add(1)

	src, err := os.ReadFile(filepath.Join(root, "a.html"))
	if err != nil {
		return build.Artifact{}, err
	}
	out := filepath.Join(root, ".docpress")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return build.Artifact{}, err
	}
	// Writes under the output directory must not trigger rebuilds.
	if err := os.WriteFile(filepath.Join(out, "preview.html"), src, 0o644); err != nil {
		return build.Artifact{}, err
	}

	if strings.Contains(string(src), "<broken") {
		return build.Artifact{}, &build.RenderError{
			Summary:    "parse error",
			Diagnostic: "parse error at line 12, column 3: unexpected end tag </section>",
		}
	}
	return build.Artifact{Path: filepath.Join(out, "output.pdf"), SizeBytes: 45000}, nil
}

type viewer struct {
	mu       sync.Mutex
	payloads []hub.Payload
}

func (v *viewer) ID() string         { return "viewer-test" }
func (v *viewer) Close(string) error { return nil }
func (v *viewer) Send(data []byte) error {
	var p hub.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	v.mu.Lock()
	v.payloads = append(v.payloads, p)
	v.mu.Unlock()
	return nil
}

func (v *viewer) received() []hub.Payload {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]hub.Payload, len(v.payloads))
	copy(out, v.payloads)
	return out
}

func (v *viewer) statuses() []build.BuildStatus {
	var out []build.BuildStatus
	for _, p := range v.received() {
		out = append(out, p.Status)
	}
	return out
}

func (v *viewer) last() hub.Payload {
	r := v.received()
	if len(r) == 0 {
		return hub.Payload{}
	}
	return r[len(r)-1]
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Watch.Root = root
	cfg.Watch.Extensions = []string{".html", ".css"}
	cfg.Watch.Mode = config.WatchModePoll
	cfg.Watch.PollInterval = 25 * time.Millisecond
	cfg.Debounce.Window = testWindow
	cfg.Render.Timeout = 5 * time.Second
	return cfg
}

func newDocRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "doc")
	require.NoError(t, os.MkdirAll(root, 0o755))
	writeFile(t, root, "a.html", "<h1>Report</h1>")
	writeFile(t, root, "b.css", "h1 { color: black; }")
	return root
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

type running struct {
	pipeline *Pipeline
	viewer   *viewer
	cancel   context.CancelFunc
	done     chan error
}

func startPipeline(t *testing.T, cfg *config.Config, r build.Renderer, opts PipelineOptions) *running {
	t.Helper()
	opts.Renderer = r
	p, err := NewPipeline(cfg, opts)
	require.NoError(t, err)

	v := &viewer{}
	require.NoError(t, p.Hub().Connect(v))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	rn := &running{pipeline: p, viewer: v, cancel: cancel, done: done}
	t.Cleanup(rn.stop)
	return rn
}

func (rn *running) stop() {
	rn.cancel()
	select {
	case <-rn.done:
	case <-time.After(5 * time.Second):
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	root := newDocRoot(t)
	r := &docRenderer{}
	rn := startPipeline(t, testConfig(root), r, PipelineOptions{})
	v := rn.viewer

	// Initial build.
	require.Eventually(t, func() bool { return len(v.received()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, build.StatusPending, v.received()[0].Status)
	assert.Equal(t, build.SourceInitial, v.last().Source)
	assert.Equal(t, int32(1), r.calls.Load())

	// Two edits 100ms apart inside one window collapse into one render.
	writeFile(t, root, "a.html", "<h1>Report v2</h1>")
	time.Sleep(100 * time.Millisecond)
	writeFile(t, root, "b.css", "h1 { color: navy; }")

	require.Eventually(t, func() bool { return len(v.received()) == 3 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(3 * testWindow)
	assert.Equal(t, int32(2), r.calls.Load())

	got := v.last()
	assert.Equal(t, build.StatusSuccess, got.Status)
	assert.Equal(t, build.SourceDebounce, got.Source)
	require.NotNil(t, got.ArtifactSizeBytes)
	assert.Equal(t, int64(45000), *got.ArtifactSizeBytes)

	// A malformed document publishes the failure verbatim.
	writeFile(t, root, "a.html", "<section><broken></section></section>")
	require.Eventually(t, func() bool { return v.last().Status == build.StatusFailure }, 5*time.Second, 10*time.Millisecond)

	failed := v.last()
	assert.Equal(t, "parse error", failed.ErrorSummary)
	assert.Contains(t, failed.FullDiagnosticText, "line 12")
	require.NotEmpty(t, failed.Locations)
	assert.Equal(t, 12, failed.Locations[0].Line)
	assert.Nil(t, failed.ArtifactSizeBytes)

	// A corrective edit yields a later success.
	writeFile(t, root, "a.html", "<h1>Report v3, fixed</h1>")
	require.Eventually(t, func() bool { return v.last().Status == build.StatusSuccess }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []build.BuildStatus{
		build.StatusPending,
		build.StatusSuccess,
		build.StatusSuccess,
		build.StatusFailure,
		build.StatusSuccess,
	}, v.statuses())

	seqs := v.received()
	for i := 2; i < len(seqs); i++ {
		assert.Greater(t, seqs[i].Seq, seqs[i-1].Seq)
	}

	snap := rn.pipeline.Metrics()
	assert.Equal(t, int64(4), snap.TotalBuilds)
	assert.Equal(t, int64(1), snap.FailedBuilds)
}

func TestPipelineIgnoresOutputDirectory(t *testing.T) {
	root := newDocRoot(t)
	r := &docRenderer{}
	rn := startPipeline(t, testConfig(root), r, PipelineOptions{})

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	// The renderer wrote .docpress/preview.html; that must not loop.
	time.Sleep(4 * testWindow)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, build.StateIdle, rn.pipeline.State())
}

func TestPipelineRegenerate(t *testing.T) {
	root := newDocRoot(t)
	r := &docRenderer{}
	rn := startPipeline(t, testConfig(root), r, PipelineOptions{SkipInitialBuild: true})

	time.Sleep(2 * testWindow)
	assert.Zero(t, r.calls.Load())
	assert.Equal(t, []build.BuildStatus{build.StatusPending}, rn.viewer.statuses())

	rn.pipeline.Regenerate()
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rn.viewer.last().Status == build.StatusSuccess }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, build.SourceManual, rn.viewer.last().Source)
}

func TestPipelineRootRemoved(t *testing.T) {
	root := newDocRoot(t)
	r := &docRenderer{}
	rn := startPipeline(t, testConfig(root), r, PipelineOptions{})

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, os.RemoveAll(root))

	// Files vanishing mid-removal may also produce an ordinary failed render,
	// so look for the watcher's result specifically.
	var got hub.Payload
	require.Eventually(t, func() bool {
		for _, p := range rn.viewer.received() {
			if p.Source == build.SourceWatcher {
				got = p
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, build.StatusFailure, got.Status)
	assert.Contains(t, got.ErrorSummary, "watched directory removed")
	assert.Contains(t, got.ErrorSummary, root)
	assert.Contains(t, got.FullDiagnosticText, "Suggestions:")

	// The pipeline keeps running until cancelled.
	select {
	case err := <-rn.done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	rn.cancel()
	select {
	case err := <-rn.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewPipelineFailsFast(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{"missing root", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "nope")
		}},
		{"root is a file", func(t *testing.T) string {
			path := filepath.Join(t.TempDir(), "file.html")
			require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
			return path
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(testConfig(tt.setup(t)), PipelineOptions{Renderer: &docRenderer{}})
			require.Error(t, err)

			var enhanced *errors.EnhancedError
			require.True(t, stderrors.As(err, &enhanced))
			assert.True(t, errors.IsFatal(err))
			assert.Contains(t, err.Error(), "docpress init")
		})
	}
}

func TestNewPipelineRequiresRenderer(t *testing.T) {
	_, err := NewPipeline(testConfig(newDocRoot(t)), PipelineOptions{})
	assert.Error(t, err)
}

func TestPipelineRunTwice(t *testing.T) {
	rn := startPipeline(t, testConfig(newDocRoot(t)), &docRenderer{}, PipelineOptions{SkipInitialBuild: true})

	require.Eventually(t, func() bool {
		rn.pipeline.mu.Lock()
		defer rn.pipeline.mu.Unlock()
		return rn.pipeline.running
	}, 5*time.Second, 10*time.Millisecond)

	assert.Error(t, rn.pipeline.Run(context.Background()))
}
