package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/validation"
	"github.com/conneroisu/docpress/internal/version"
)

// assetExtensions are served from the watched root in addition to the
// watched extensions themselves.
var assetExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
	".woff", ".woff2", ".ttf", ".otf",
}

func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page := viewerPage(viewerData{
		Title:   version.Name + " · " + filepath.Base(s.opts.Root),
		Payload: s.pipeline.Hub().CurrentPayload(),
	})
	w.Header().Set("Cache-Control", "no-store")
	templ.Handler(page).ServeHTTP(w, r)
}

// handleStatus returns the payload a newly connected viewer would receive.
func (s *PreviewServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.pipeline.Hub().CurrentPayload())
}

func (s *PreviewServer) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.pipeline.Regenerate()
	s.logger.Info(r.Context(), "Manual regeneration requested", "remote", r.RemoteAddr)
	s.writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *PreviewServer) handleBuildMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"metrics":   s.pipeline.Metrics(),
		"state":     s.pipeline.State(),
		"viewers":   s.pipeline.Hub().SessionCount(),
		"sessions":  s.ws.Viewers(),
		"timestamp": time.Now().UTC(),
	})
}

// handleArtifact serves the last successful artifact. It is never cached
// because the same URL changes content after every build.
func (s *PreviewServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, err := os.Open(s.opts.ArtifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "No artifact has been built yet", http.StatusNotFound)
			return
		}
		s.logger.Error(r.Context(), errors.NewFilesystemError("ERR_READ", s.opts.ArtifactPath, err), "Cannot open artifact")
		http.Error(w, "Cannot read artifact", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Cannot read artifact", http.StatusInternalServerError)
		return
	}

	name := filepath.Base(s.opts.ArtifactPath)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handlePreview serves the rendered preview at /preview/ and the documents'
// own assets below it, so relative links in the preview resolve.
func (s *PreviewServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, "/preview/")
	if rel == "" {
		s.servePreviewDocument(w, r)
		return
	}
	s.servePreviewAsset(w, r, rel)
}

func (s *PreviewServer) servePreviewDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := os.ReadFile(s.opts.PreviewPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "No preview has been rendered yet", http.StatusNotFound)
			return
		}
		s.logger.Error(r.Context(), errors.NewFilesystemError("ERR_READ", s.opts.PreviewPath, err), "Cannot read preview")
		http.Error(w, "Cannot read preview", http.StatusInternalServerError)
		return
	}

	out, err := injectReloadScript(doc)
	if err != nil {
		s.logger.Warn(r.Context(), err, "Serving preview without reload script")
		out = doc
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(out)
}

func (s *PreviewServer) servePreviewAsset(w http.ResponseWriter, r *http.Request, rel string) {
	// Hidden segments cover the output directory and VCS metadata.
	for _, segment := range strings.Split(rel, "/") {
		if strings.HasPrefix(segment, ".") {
			http.NotFound(w, r)
			return
		}
	}

	allowed := append(append([]string{}, s.config.Watch.Extensions...), assetExtensions...)
	if err := validation.ValidateFileExtension(rel, allowed); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	full, err := validation.ResolveWithin(s.opts.Root, rel)
	if err != nil {
		s.logger.Warn(r.Context(), errors.NewSecurityError("PATH_TRAVERSAL", err.Error()), "Rejected preview asset", "path", rel)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleHealth returns the server health status for health checks
func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	current := s.pipeline.Hub().CurrentPayload()
	metrics := s.pipeline.Metrics()

	health := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"version":    version.GetShortVersion(),
		"build_info": version.GetBuildInfo(),
		"checks": map[string]interface{}{
			"server": map[string]interface{}{"status": "healthy", "message": "HTTP server operational"},
			"build": map[string]interface{}{
				"state":        s.pipeline.State(),
				"last_status":  current.Status,
				"total_builds": metrics.TotalBuilds,
			},
			"viewers": map[string]interface{}{"connected": s.pipeline.Hub().SessionCount()},
		},
	}

	s.writeJSON(w, r, http.StatusOK, health)
}

func (s *PreviewServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}
