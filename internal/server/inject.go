package server

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// reloadScript reloads a standalone preview tab after every successful build.
// Inside the viewer page the iframe is reloaded by the parent, so it does
// nothing when framed.
const reloadScript = `(function () {
  if (window.self !== window.top) return;
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var seen = null;
  function connect() {
    var ws = new WebSocket(scheme + location.host + "/ws");
    ws.onmessage = function (ev) {
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      if (msg.type !== "build_status" || msg.status !== "success") return;
      if (seen !== null && msg.seq !== seen) location.reload();
      seen = msg.seq;
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();`

// injectReloadScript appends the reload client to the end of the document
// body. The HTML parser always synthesises a body, so fragments work too.
func injectReloadScript(doc []byte) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse preview: %w", err)
	}

	body := findElement(root, atom.Body)
	if body == nil {
		return nil, fmt.Errorf("parse preview: no body element")
	}

	script := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr:     []html.Attribute{{Key: "data-docpress", Val: "reload"}},
	}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: reloadScript})
	body.AppendChild(script)

	var out bytes.Buffer
	if err := html.Render(&out, root); err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}
	return out.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
