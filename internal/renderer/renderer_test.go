package renderer

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// copyRenderer "converts" by copying preview.html to the artifact.
func copyRenderer(t *testing.T) *DocumentRenderer {
	t.Helper()
	r, err := New(Options{
		Command:         "cp",
		Args:            []string{PlaceholderInput, PlaceholderOutput},
		AllowedCommands: map[string]bool{"cp": true},
		Params:          "params.json",
		Now:             func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return r
}

func renderError(t *testing.T, err error) *build.RenderError {
	t.Helper()
	var re *build.RenderError
	require.True(t, stderrors.As(err, &re), "expected *build.RenderError, got %T: %v", err, err)
	return re
}

func TestRenderProducesPreviewAndArtifact(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"index.html":          `<h1>{{ .title }}</h1>{{ template "partials/footer.html" . }}`,
		"partials/footer.html": `<footer>{{ .author | upper }} {{ date "2006-01-02" .now }}</footer>`,
		"params.json":         `{"title": "Quarterly Report", "author": "ada"}`,
		"styles.css":          `h1 { color: red; }`,
	})
	r := copyRenderer(t)

	artifact, err := r.Render(context.Background(), root)
	require.NoError(t, err)

	preview, err := os.ReadFile(r.PreviewPath(root))
	require.NoError(t, err)
	assert.Equal(t, "<h1>Quarterly Report</h1><footer>ADA 2026-03-14</footer>", string(preview))

	assert.Equal(t, r.ArtifactPath(root), artifact.Path)
	assert.Equal(t, int64(len(preview)), artifact.SizeBytes)

	entries, err := os.ReadDir(filepath.Join(root, ".docpress"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"output.pdf", "preview.html"}, names)
}

func TestRenderParams(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		files    map[string]string
		expected string
	}{
		{
			name:   "yaml params",
			params: "params.yaml",
			files: map[string]string{
				"index.html":  `{{ .title }}`,
				"params.yaml": "title: From YAML\n",
			},
			expected: "From YAML",
		},
		{
			name:   "tab indented json",
			params: "params.json",
			files: map[string]string{
				"index.html":  `{{ .title }}`,
				"params.json": "{\n\t\"title\": \"Tabbed\"\n}",
			},
			expected: "Tabbed",
		},
		{
			name:     "missing params file",
			params:   "params.json",
			files:    map[string]string{"index.html": `{{ .now.Year }}`},
			expected: "2026",
		},
		{
			name:   "params override now",
			params: "params.yaml",
			files: map[string]string{
				"index.html":  `{{ .now }}`,
				"params.yaml": "now: yesterday\n",
			},
			expected: "yesterday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFiles(t, root, tt.files)

			r, err := New(Options{
				Command:         "cp",
				Args:            []string{PlaceholderInput, PlaceholderOutput},
				AllowedCommands: map[string]bool{"cp": true},
				Params:          tt.params,
				Now:             func() time.Time { return fixedNow },
			})
			require.NoError(t, err)

			preview, err := r.RenderPreview(context.Background(), root)
			require.NoError(t, err)
			content, err := os.ReadFile(preview)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(content))
		})
	}
}

func TestRenderTemplateFailures(t *testing.T) {
	tests := []struct {
		name            string
		files           map[string]string
		expectedSummary string
		expectedLine    int
	}{
		{
			name:            "parse error",
			files:           map[string]string{"index.html": "<h1>\n{{ .title | nosuchfunc }}\n</h1>"},
			expectedSummary: "template: index.html:",
			expectedLine:    2,
		},
		{
			name:            "missing parameter",
			files:           map[string]string{"index.html": "<p>ok</p>\n<h1>{{ .title }}</h1>", "params.json": `{}`},
			expectedSummary: "template: index.html:2:",
			expectedLine:    2,
		},
		{
			name:            "broken partial",
			files:           map[string]string{"index.html": `{{ template "part.html" . }}`, "part.html": "{{ end }}"},
			expectedSummary: "template: part.html:1:",
			expectedLine:    1,
		},
		{
			name:            "missing entry",
			files:           map[string]string{"other.html": "<p></p>"},
			expectedSummary: "entry template not found: index.html",
		},
		{
			name:            "malformed params",
			files:           map[string]string{"index.html": "x", "params.json": "title: [unclosed\nother: x"},
			expectedSummary: "invalid parameters file params.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFiles(t, root, tt.files)

			_, err := copyRenderer(t).Render(context.Background(), root)
			require.Error(t, err)

			re := renderError(t, err)
			assert.Contains(t, re.Summary, tt.expectedSummary)
			assert.NotEmpty(t, re.Diagnostic)

			if tt.expectedLine > 0 {
				locations := errors.NewErrorParser().Locations(re.Diagnostic)
				require.NotEmpty(t, locations)
				assert.Equal(t, tt.expectedLine, locations[0].Line)
			}
		})
	}
}

func TestFailedRenderKeepsPreviousArtifact(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"index.html":  `<h1>{{ .title }}</h1>`,
		"params.json": `{"title": "v1"}`,
	})
	r := copyRenderer(t)

	first, err := r.Render(context.Background(), root)
	require.NoError(t, err)
	before, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	writeFiles(t, root, map[string]string{"index.html": `<h1>{{ .title </h1>`})
	_, err = r.Render(context.Background(), root)
	require.Error(t, err)

	after, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// A corrective edit succeeds again.
	writeFiles(t, root, map[string]string{"index.html": `<h1>{{ .title }}!</h1>`})
	_, err = r.Render(context.Background(), root)
	require.NoError(t, err)
}

func TestCommandFailure(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.html": `<p>hi</p>`})

	r, err := New(Options{
		Command:         "cat",
		Args:            []string{PlaceholderRoot + "/missing.txt"},
		AllowedCommands: map[string]bool{"cat": true},
	})
	require.NoError(t, err)

	_, err = r.Render(context.Background(), root)
	re := renderError(t, err)
	assert.Contains(t, re.Summary, "missing.txt")
	assert.Contains(t, re.Summary, "No such file or directory")
	assert.Contains(t, re.Diagnostic, "exit status 1")

	_, statErr := os.Stat(r.ArtifactPath(root))
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(filepath.Join(root, ".docpress"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary artifact must be removed")
}

func TestCommandNotFound(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.html": `<p>hi</p>`})

	r, err := New(Options{
		Command:         "docpress-no-such-renderer",
		Args:            []string{PlaceholderInput, PlaceholderOutput},
		AllowedCommands: map[string]bool{"docpress-no-such-renderer": true},
	})
	require.NoError(t, err)

	_, err = r.Render(context.Background(), root)
	re := renderError(t, err)
	assert.Equal(t, "renderer not found: docpress-no-such-renderer", re.Summary)
	assert.Contains(t, re.Diagnostic, "pip install docpress-no-such-renderer")
}

func TestCommandWithoutOutput(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.html": `<p>hi</p>`})

	r, err := New(Options{
		Command:         "true",
		AllowedCommands: map[string]bool{"true": true},
	})
	require.NoError(t, err)

	_, err = r.Render(context.Background(), root)
	re := renderError(t, err)
	assert.Equal(t, "true produced no output", re.Summary)
}

func TestCommandHonoursContext(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.html": `<p>hi</p>`})

	r, err := New(Options{
		Command:         "sleep",
		Args:            []string{"5"},
		AllowedCommands: map[string]bool{"sleep": true},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.Render(ctx, root)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestNewRejectsUnsafeCommandLines(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "command not allowed", opts: Options{Command: "rm"}},
		{name: "untrusted path", opts: Options{Command: "/tmp/weasyprint"}},
		{name: "injected argument", opts: Options{Command: "weasyprint", Args: []string{"{input}; rm -rf /"}}},
		{name: "traversal argument", opts: Options{Command: "weasyprint", Args: []string{"../../etc/passwd"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			var pe *errors.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, errors.ErrorTypeSecurity, pe.Type)
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Watch.Root = "/doc"

	r, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/doc", ".docpress", "output.pdf"), r.ArtifactPath("/doc"))
	assert.Equal(t, filepath.Join("/doc", ".docpress", "preview.html"), r.PreviewPath("/doc"))
}

func TestSubstitute(t *testing.T) {
	args := substitute(
		[]string{"{input}", "{output}", "--base-url", "{root}", "--media={root}/print.css"},
		"/doc/.docpress/preview.html", "/doc/.docpress/.output.pdf.1.tmp", "/doc",
	)
	assert.Equal(t, []string{
		"/doc/.docpress/preview.html",
		"/doc/.docpress/.output.pdf.1.tmp",
		"--base-url",
		"/doc",
		"--media=/doc/print.css",
	}, args)
}

func TestTemplateFuncs(t *testing.T) {
	funcs := templateFuncs()

	title := funcs["title"].(func(string) string)
	assert.Equal(t, "Annual Report", title("annual report"))

	def := funcs["default"].(func(any, any) any)
	assert.Equal(t, "fallback", def("fallback", ""))
	assert.Equal(t, "fallback", def("fallback", nil))
	assert.Equal(t, "set", def("fallback", "set"))
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "ValueError: bad", lastLine("Traceback:\n  File \"x\", line 1\nValueError: bad\n\n"))
	assert.Equal(t, "", lastLine("  \n"))
}
