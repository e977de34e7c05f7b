// Package server exposes the pipeline over HTTP: the live viewer page, the
// websocket push channel, the rendered preview and artifact, and a small JSON
// API for status, metrics and manual regeneration.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/hub"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/server/middleware"
	"github.com/conneroisu/docpress/internal/validation"
	"github.com/conneroisu/docpress/internal/websocket"
)

// Pipeline is the part of the rebuild pipeline the server depends on.
type Pipeline interface {
	Hub() *hub.Hub
	Regenerate()
	Metrics() build.MetricsSnapshot
	State() build.State
}

// Options locates the files the server serves.
type Options struct {
	// Root is the watched directory; preview assets are served from it.
	Root         string
	PreviewPath  string
	ArtifactPath string
	Logger       logging.Logger
}

// PreviewServer serves the viewer and its supporting endpoints.
type PreviewServer struct {
	config   *config.Config
	pipeline Pipeline
	opts     Options
	logger   logging.Logger

	ws        *websocket.Manager
	limiter   *middleware.RateLimiter
	handler   http.Handler
	startedAt time.Time

	serverMutex sync.RWMutex
	httpServer  *http.Server
	listener    net.Listener

	shutdownOnce sync.Once
}

// New creates a preview server for pipeline.
func New(cfg *config.Config, pipeline Pipeline, opts Options) *PreviewServer {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	logger := opts.Logger.WithComponent("server")

	origins := validation.AllowedOriginHosts(cfg.Server.Host, cfg.Server.Port, cfg.Server.AllowedOrigins)

	s := &PreviewServer{
		config:    cfg,
		pipeline:  pipeline,
		opts:      opts,
		logger:    logger,
		startedAt: time.Now(),
		limiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: 30,
			BurstLimit:        5,
		}),
	}
	s.ws = websocket.NewManager(pipeline.Hub(), pipeline.Regenerate, websocket.Options{
		AllowedOrigins: origins,
		Logger:         opts.Logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/ws", s.ws)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/api/regenerate", s.limiter.Middleware(http.HandlerFunc(s.handleRegenerate)))
	mux.HandleFunc("/api/build/metrics", s.handleBuildMetrics)
	mux.HandleFunc("/artifact", s.handleArtifact)
	mux.HandleFunc("/preview/", s.handlePreview)
	mux.HandleFunc("/health", s.handleHealth)

	var h http.Handler = mux
	h = SecurityMiddleware(SecurityConfigFromAppConfig(cfg, logger))(h)
	h = corsMiddleware(origins)(h)
	h = loggingMiddleware(logger)(h)
	s.handler = h

	return s
}

// Handler returns the fully wrapped router.
func (s *PreviewServer) Handler() http.Handler {
	return s.handler
}

// Start binds the configured address and serves until ctx is cancelled or the
// server fails. A bind failure is returned with suggestions attached.
func (s *PreviewServer) Start(ctx context.Context) error {
	addr := s.config.Address()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewEnhancedError(
			fmt.Sprintf("Cannot start server on %s", addr),
			err,
			errors.ServerStartError(err, s.config.Server.Port, nil),
		)
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	url := "http://" + browserHost(ln.Addr())
	s.logger.Info(ctx, "Preview server listening", "url", url)

	if s.config.Server.Open {
		go s.openBrowser(ctx, url)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Addr returns the bound address, or "" before Start has listened.
func (s *PreviewServer) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes viewer sessions with a going-away frame, then stops the
// HTTP server.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.limiter.Stop()

		if err := s.ws.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, err, "Viewer sessions did not close cleanly")
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *PreviewServer) openBrowser(ctx context.Context, url string) {
	if err := validation.ValidateURL(url); err != nil {
		s.logger.Warn(ctx, err, "Browser open failed due to invalid URL", "url", url)
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser", "url", url)
	}
}

// browserHost turns a wildcard listen address into one a browser can open.
func browserHost(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
