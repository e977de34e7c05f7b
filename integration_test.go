package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/hub"
	"github.com/conneroisu/docpress/internal/renderer"
	"github.com/conneroisu/docpress/internal/server"
	"github.com/conneroisu/docpress/internal/services"
)

// startPreview runs the real pipeline and server over root. cp stands in for
// the PDF converter, so the artifact is a copy of preview.html.
func startPreview(t *testing.T, root string) (string, context.CancelFunc) {
	t.Helper()

	v := viper.New()
	v.Set("watch.root", root)
	v.Set("watch.poll_interval", "25ms")
	v.Set("debounce.window", "200ms")
	v.Set("render.command", "cp")
	v.Set("render.args", []string{"{input}", "{output}"})
	v.Set("render.allowed_commands", []string{"cp"})
	v.Set("server.host", "127.0.0.1")

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	cfg.Server.Port = 0

	r, err := renderer.FromConfig(cfg, nil)
	require.NoError(t, err)

	pipeline, err := services.NewPipeline(cfg, services.PipelineOptions{Renderer: r})
	require.NoError(t, err)

	srv := server.New(cfg, pipeline, server.Options{
		Root:         pipeline.Root(),
		PreviewPath:  r.PreviewPath(pipeline.Root()),
		ArtifactPath: r.ArtifactPath(pipeline.Root()),
	})

	ctx, cancel := context.WithCancel(context.Background())
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		_ = pipeline.Run(ctx)
	}()
	go func() {
		if err := srv.Start(ctx); err != nil {
			t.Errorf("Server start failed: %v", err)
		}
	}()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		assert.NoError(t, srv.Shutdown(shutdownCtx))
		<-pipelineDone
	})
	return srv.Addr(), cancel
}

// nextStatus reads payloads until one has the wanted status.
func nextStatus(t *testing.T, conn *websocket.Conn, want build.BuildStatus) hub.Payload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", want)

		var p hub.Payload
		require.NoError(t, json.Unmarshal(data, &p))
		if p.Status == want {
			return p
		}
	}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestIntegration_EditRenderReload(t *testing.T) {
	root := t.TempDir()
	index := filepath.Join(root, "index.html")
	require.NoError(t, os.WriteFile(index, []byte("<html><body><h1>{{ .title }}</h1></body></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "params.json"), []byte(`{"title": "Draft"}`), 0o644))

	addr, _ := startPreview(t, root)
	base := "http://" + addr

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {base}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	// Initial build.
	first := nextStatus(t, conn, build.StatusSuccess)
	require.NotNil(t, first.ArtifactSizeBytes)
	assert.Positive(t, *first.ArtifactSizeBytes)

	resp, body := get(t, base+"/preview/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<h1>Draft</h1>")
	assert.Contains(t, body, `data-docpress="reload"`)

	resp, body = get(t, base+"/artifact")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "<h1>Draft</h1>")

	// A template error reaches the viewer with its location.
	require.NoError(t, os.WriteFile(index, []byte("<html><body><h1>{{ .title </h1></body></html>"), 0o644))
	failure := nextStatus(t, conn, build.StatusFailure)
	assert.Equal(t, build.SourceDebounce, failure.Source)
	assert.Contains(t, failure.FullDiagnosticText, "index.html")
	require.NotEmpty(t, failure.Locations)
	assert.Equal(t, 1, failure.Locations[0].Line)

	// The last good artifact is still served.
	resp, _ = get(t, base+"/artifact")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, os.WriteFile(index, []byte("<html><body><h1>{{ .title }} v2</h1></body></html>"), 0o644))
	fixed := nextStatus(t, conn, build.StatusSuccess)
	assert.Greater(t, fixed.Seq, failure.Seq)

	_, body = get(t, base+"/preview/")
	assert.Contains(t, body, "<h1>Draft v2</h1>")

	// Manual regeneration from the viewer.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"regenerate"}`)))
	manual := nextStatus(t, conn, build.StatusSuccess)
	assert.Equal(t, build.SourceManual, manual.Source)
	assert.Greater(t, manual.Seq, fixed.Seq)
}

func TestIntegration_StatusAndHealth(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<p>{{ .title }}</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "params.json"), []byte(`{"title": "Hello"}`), 0o644))

	addr, _ := startPreview(t, root)
	base := "http://" + addr

	require.Eventually(t, func() bool {
		_, body := get(t, base+"/api/status")
		var p hub.Payload
		return json.Unmarshal([]byte(body), &p) == nil && p.Status == build.StatusSuccess
	}, 10*time.Second, 50*time.Millisecond)

	resp, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status"`)

	resp, body = get(t, base+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `src="/preview/"`)
}
