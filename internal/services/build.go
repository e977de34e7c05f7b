package services

import (
	"context"
	"fmt"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/renderer"
	"github.com/conneroisu/docpress/internal/watcher"
)

// BuildService renders the watched root once.
type BuildService struct {
	config *config.Config
	logger logging.Logger
}

// NewBuildService creates a new build service
func NewBuildService(cfg *config.Config, logger logging.Logger) *BuildService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &BuildService{config: cfg, logger: logger}
}

// Build validates the root and renders it with the configured renderer. A
// render failure is reported through the result, not the error.
func (s *BuildService) Build(ctx context.Context) (build.BuildResult, error) {
	r, err := renderer.FromConfig(s.config, s.logger)
	if err != nil {
		return build.BuildResult{}, err
	}
	return s.BuildWith(ctx, r)
}

// BuildWith is Build with an explicit renderer.
func (s *BuildService) BuildWith(ctx context.Context, r build.Renderer) (build.BuildResult, error) {
	root, err := watcher.ResolveRoot(s.config.Watch.Root)
	if err != nil {
		if errors.IsFatal(err) {
			err = errors.NewEnhancedError(
				fmt.Sprintf("Cannot build %s", s.config.Watch.Root),
				err,
				errors.RootMissingError(s.config.Watch.Root, nil),
			)
		}
		return build.BuildResult{}, err
	}

	orchestrator := build.NewOrchestrator(r, build.Options{
		Root:    root,
		Timeout: s.config.Render.Timeout,
		Logger:  s.logger,
	})
	return orchestrator.BuildNow(ctx, build.NewRequest(build.SourceManual))
}
