// Package services assembles the pipeline components into the operations the
// CLI exposes: serve, watch, build and init.
package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/debounce"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/hub"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/watcher"
)

// Pipeline wires watcher -> debounce -> orchestrator -> hub.
//
// The orchestrator publishes every result to the hub; watcher fatal errors are
// published through the same path so viewers see them as failures.
type Pipeline struct {
	root   string
	logger logging.Logger

	watcher      watcher.Watcher
	debouncer    *debounce.Coordinator
	orchestrator *build.Orchestrator
	hub          *hub.Hub

	initialBuild bool

	mu      sync.Mutex
	running bool
}

// PipelineOptions tunes a Pipeline beyond what the configuration carries.
type PipelineOptions struct {
	Renderer build.Renderer
	Logger   logging.Logger
	// SkipInitialBuild leaves the hub pending until the first change.
	SkipInitialBuild bool
}

// NewPipeline validates the watched root and builds every component. It fails
// fast, before anything runs, when the root is missing or not a directory.
func NewPipeline(cfg *config.Config, opts PipelineOptions) (*Pipeline, error) {
	if opts.Renderer == nil {
		return nil, fmt.Errorf("pipeline: renderer is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	root, err := filepath.Abs(cfg.Watch.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	outputDir, err := cfg.OutputPath()
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}

	w, err := watcher.New(cfg.Watch.Mode, watcher.Options{
		Root:         root,
		Extensions:   cfg.Watch.Extensions,
		IgnoreNames:  cfg.Watch.Ignore,
		IgnorePaths:  []string{outputDir},
		PollInterval: cfg.Watch.PollInterval,
		Logger:       opts.Logger.WithComponent("watcher"),
	})
	if err != nil {
		if errors.IsFatal(err) {
			return nil, errors.NewEnhancedError(
				fmt.Sprintf("Cannot watch %s", cfg.Watch.Root),
				err,
				errors.RootMissingError(cfg.Watch.Root, nil),
			)
		}
		return nil, err
	}

	orchestrator := build.NewOrchestrator(opts.Renderer, build.Options{
		Root:    root,
		Timeout: cfg.Render.Timeout,
		Logger:  opts.Logger,
	})
	h := hub.New(opts.Logger)
	orchestrator.AddCallback(h.Publish)

	return &Pipeline{
		root:         root,
		logger:       opts.Logger.WithComponent("pipeline"),
		watcher:      w,
		debouncer:    debounce.New(cfg.Debounce.Window, orchestrator.Trigger, opts.Logger),
		orchestrator: orchestrator,
		hub:          h,
		initialBuild: !opts.SkipInitialBuild,
	}, nil
}

// Run starts watching and rendering and blocks until ctx is cancelled. A
// removed root does not end Run: the failure is published and the pipeline
// keeps serving its last state until shut down.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: already running")
	}
	p.running = true
	p.mu.Unlock()

	if err := p.watcher.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = p.orchestrator.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		_ = p.debouncer.Run(runCtx, p.watcher.Events())
	}()

	if p.initialBuild {
		p.orchestrator.Trigger(build.NewRequest(build.SourceInitial))
	}

	p.logger.Info(ctx, "Pipeline started", "root", p.root)

	errs := p.watcher.Errors()
	for errs != nil {
		select {
		case <-ctx.Done():
			errs = nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.watcherFailed(ctx, err)
		}
	}

	<-ctx.Done()

	if err := p.watcher.Stop(); err != nil {
		p.logger.Warn(ctx, err, "Watcher did not stop cleanly")
	}
	cancel()
	wg.Wait()
	p.debouncer.Stop()

	p.logger.Info(context.Background(), "Pipeline stopped", "root", p.root)
	return nil
}

// watcherFailed turns a fatal watcher error into a published failure.
func (p *Pipeline) watcherFailed(ctx context.Context, err error) {
	p.logger.Error(ctx, err, "Watcher stopped", "root", p.root)

	now := time.Now()
	p.orchestrator.Publish(build.BuildResult{
		Source:       build.SourceWatcher,
		Status:       build.StatusFailure,
		StartedAt:    now,
		FinishedAt:   now,
		ErrorSummary: fmt.Sprintf("watched directory removed: %s", p.root),
		Diagnostic: errors.FormatSuggestions(
			err.Error(),
			errors.RootMissingError(p.root, nil),
		),
	})
}

// Regenerate requests a manual rebuild. It obeys the same collapsing rule as
// file changes and never blocks.
func (p *Pipeline) Regenerate() {
	p.orchestrator.Trigger(build.NewRequest(build.SourceManual))
}

// Hub returns the broadcast hub viewers attach to.
func (p *Pipeline) Hub() *hub.Hub { return p.hub }

// Metrics returns the orchestrator's build metrics.
func (p *Pipeline) Metrics() build.MetricsSnapshot { return p.orchestrator.Metrics() }

// State returns the orchestrator state.
func (p *Pipeline) State() build.State { return p.orchestrator.State() }

// Root returns the absolute watched root.
func (p *Pipeline) Root() string { return p.root }

// OnResult registers fn to run after every published result.
func (p *Pipeline) OnResult(fn build.BuildCallback) {
	p.orchestrator.AddCallback(fn)
}
