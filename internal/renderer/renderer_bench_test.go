package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func BenchmarkRenderPreview(b *testing.B) {
	root := b.TempDir()
	var body strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&body, "<section><h2>{{ .title }} %d</h2>{{ template \"partials/row.html\" . }}</section>\n", i)
	}
	files := map[string]string{
		"index.html":        body.String(),
		"partials/row.html": `<p>{{ .author | upper }}</p>`,
		"params.json":       `{"title": "Bench", "author": "ada"}`,
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			b.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			b.Fatal(err)
		}
	}

	r, err := New(Options{Command: "weasyprint", Params: "params.json"})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.RenderPreview(context.Background(), root); err != nil {
			b.Fatal(err)
		}
	}
}
