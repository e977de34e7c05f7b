package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/renderer"
	"github.com/conneroisu/docpress/internal/server"
)

// ServeService runs the long-lived commands: serve and watch.
type ServeService struct {
	config *config.Config
	logger logging.Logger
}

// NewServeService creates a new serve service
func NewServeService(cfg *config.Config, logger logging.Logger) *ServeService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ServeService{config: cfg, logger: logger}
}

// ServerInfo contains information about the server configuration
type ServerInfo struct {
	Host      string
	Port      int
	ServerURL string
	Root      string
}

// GetServerInfo returns information about the server configuration
func (s *ServeService) GetServerInfo() *ServerInfo {
	return &ServerInfo{
		Host:      s.config.Server.Host,
		Port:      s.config.Server.Port,
		ServerURL: fmt.Sprintf("http://%s", s.config.Address()),
		Root:      s.config.Watch.Root,
	}
}

// Serve runs the pipeline and the HTTP server until ctx is cancelled or either
// fails. A port already in use stops the pipeline and is returned.
func (s *ServeService) Serve(ctx context.Context) error {
	r, err := renderer.FromConfig(s.config, s.logger)
	if err != nil {
		return err
	}

	pipeline, err := NewPipeline(s.config, PipelineOptions{Renderer: r, Logger: s.logger})
	if err != nil {
		return err
	}

	srv := server.New(s.config, pipeline, server.Options{
		Root:         pipeline.Root(),
		PreviewPath:  r.PreviewPath(pipeline.Root()),
		ArtifactPath: r.ArtifactPath(pipeline.Root()),
		Logger:       s.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	return g.Wait()
}

// Watch runs the pipeline without HTTP and logs every result.
func (s *ServeService) Watch(ctx context.Context) error {
	r, err := renderer.FromConfig(s.config, s.logger)
	if err != nil {
		return err
	}

	pipeline, err := NewPipeline(s.config, PipelineOptions{Renderer: r, Logger: s.logger})
	if err != nil {
		return err
	}
	pipeline.OnResult(func(result build.BuildResult) {
		logResult(ctx, s.logger, result)
	})

	return pipeline.Run(ctx)
}

func logResult(ctx context.Context, logger logging.Logger, result build.BuildResult) {
	switch result.Status {
	case build.StatusSuccess:
		logger.Info(ctx, "Build succeeded",
			"seq", result.Seq,
			"source", string(result.Source),
			"artifact", result.ArtifactPath,
			"artifact_size_bytes", result.ArtifactSizeBytes,
			"duration", result.Duration().String())
	case build.StatusFailure:
		logger.Error(ctx, fmt.Errorf("%s", result.ErrorSummary), "Build failed",
			"seq", result.Seq,
			"source", string(result.Source),
			"diagnostic", result.Diagnostic)
	}
}
