// Package internal contains the implementation packages for docpress.
//
// # Package Organization
//
//   - watcher: polling and fsnotify change detection over the document root
//   - debounce: collapses a burst of change events into one rebuild request
//   - build: the orchestrator that keeps at most one render in flight
//   - renderer: Go template stage plus the external HTML-to-PDF command
//   - hub: session registry and fan-out of build results to viewers
//   - websocket: viewer sessions on top of the hub
//   - server: viewer page, preview and artifact routes, middleware
//   - services: wires the above into the serve, watch, build and init commands
//   - config, logging, errors, validation, version: shared infrastructure
//
// # Data Flow
//
// A change flows in one direction:
//
//	watcher -> debounce -> build.Orchestrator -> hub -> viewer sessions
//
// Manual regeneration from a viewer or POST /api/regenerate enters at the
// orchestrator and obeys the same collapsing rule as debounced changes.
//
// # Security Considerations
//
//   - config and renderer reject commands outside the allowlist and arguments
//     with shell metacharacters
//   - server confines preview assets to the document root and checks origins
//     on WebSocket upgrades and state-changing requests
//   - diagnostics are escaped before they reach the viewer page
package internal
