package server

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/hub"
)

// viewerData is what the viewer page shows before the websocket delivers the
// first payload.
type viewerData struct {
	Title   string
	Payload hub.Payload
}

// statusLabel renders a build status for humans ("success" -> "Success").
func statusLabel(status build.BuildStatus) string {
	return cases.Title(language.English).String(string(status))
}

// viewerPage is the live viewer: status panel, preview iframe, artifact link
// and the websocket client that keeps them current.
func viewerPage(data viewerData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder

		b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		fmt.Fprintf(&b, `<title>%s</title>`, templ.EscapeString(data.Title))
		b.WriteString(`<style>` + viewerCSS + `</style></head><body>`)

		b.WriteString(`<header><h1>` + templ.EscapeString(data.Title) + `</h1>`)
		fmt.Fprintf(&b, `<span id="status" class="status status-%s">%s</span>`,
			templ.EscapeString(string(data.Payload.Status)),
			templ.EscapeString(statusLabel(data.Payload.Status)))
		b.WriteString(`<span id="detail" class="detail">` + templ.EscapeString(detailText(data.Payload)) + `</span>`)
		b.WriteString(`<nav><button id="regenerate" type="button">Regenerate</button>`)
		b.WriteString(`<a id="artifact" href="/artifact" target="_blank" rel="noopener">Open PDF</a></nav></header>`)

		b.WriteString(`<pre id="diagnostic" class="diagnostic"`)
		if data.Payload.Status != build.StatusFailure {
			b.WriteString(` hidden`)
		}
		b.WriteString(`>` + templ.EscapeString(data.Payload.FullDiagnosticText) + `</pre>`)

		b.WriteString(`<main><iframe id="preview" title="Document preview" src="/preview/"></iframe></main>`)
		b.WriteString(`<script>` + viewerJS + `</script></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func detailText(p hub.Payload) string {
	switch p.Status {
	case build.StatusSuccess:
		if p.ArtifactSizeBytes != nil {
			return fmt.Sprintf("%d bytes in %d ms", *p.ArtifactSizeBytes, p.DurationMs)
		}
		return ""
	case build.StatusFailure:
		return p.ErrorSummary
	default:
		return p.Message
	}
}

const viewerCSS = `
body{margin:0;font-family:system-ui,sans-serif;display:flex;flex-direction:column;height:100vh}
header{display:flex;align-items:center;gap:1rem;padding:.5rem 1rem;border-bottom:1px solid #ddd}
h1{font-size:1rem;margin:0}
nav{margin-left:auto;display:flex;gap:.5rem}
.status{padding:.1rem .5rem;border-radius:3px;font-weight:600}
.status-success{background:#d4f7dc;color:#0a5c1f}
.status-failure{background:#fde2e1;color:#8a1510}
.status-pending{background:#eee;color:#555}
.detail{color:#555;font-size:.9rem}
.diagnostic{margin:0;padding:1rem;max-height:40vh;overflow:auto;background:#1e1e1e;color:#f4f4f4;white-space:pre-wrap}
main{flex:1}
iframe{border:0;width:100%;height:100%}
`

const viewerJS = `(function () {
  var status = document.getElementById("status");
  var detail = document.getElementById("detail");
  var diagnostic = document.getElementById("diagnostic");
  var preview = document.getElementById("preview");
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var ws;
  var lastSeq = null;

  function label(s) { return s.charAt(0).toUpperCase() + s.slice(1); }

  function apply(msg) {
    status.textContent = label(msg.status);
    status.className = "status status-" + msg.status;
    if (msg.status === "success") {
      detail.textContent = msg.artifact_size_bytes + " bytes in " + msg.duration_ms + " ms";
      diagnostic.hidden = true;
      if (lastSeq !== null && msg.seq !== lastSeq) preview.src = "/preview/?seq=" + msg.seq;
    } else if (msg.status === "failure") {
      detail.textContent = msg.error_summary || "";
      diagnostic.textContent = msg.full_diagnostic_text || "";
      diagnostic.hidden = false;
    } else {
      detail.textContent = msg.message || "";
    }
    lastSeq = msg.seq;
  }

  function connect() {
    ws = new WebSocket(scheme + location.host + "/ws");
    ws.onmessage = function (ev) {
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      if (msg.type === "build_status") apply(msg);
    };
    ws.onclose = function () {
      status.textContent = "Disconnected";
      status.className = "status status-pending";
      setTimeout(connect, 1000);
    };
  }

  document.getElementById("regenerate").onclick = function () {
    if (ws && ws.readyState === WebSocket.OPEN) {
      ws.send(JSON.stringify({ type: "regenerate" }));
    } else {
      fetch("/api/regenerate", { method: "POST" });
    }
  };

  connect();
})();`
