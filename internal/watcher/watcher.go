// Package watcher observes a document directory and emits one ChangeEvent per
// created, modified or deleted file whose extension is being watched.
//
// Two implementations share the Watcher contract: PollingWatcher diffs
// periodic snapshots and works on any mount, NativeWatcher subscribes to
// fsnotify. Neither deduplicates rapid writes; that is left to the debounce
// stage downstream.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	derrors "github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/logging"
)

// ErrAlreadyStarted is returned by Start on a watcher that was already
// started or stopped. Watchers are not restartable.
var ErrAlreadyStarted = errors.New("watcher: already started")

// Watcher emits change events for a single root directory.
type Watcher interface {
	// Start begins watching. Events observed afterwards are delivered on
	// Events until Stop is called, ctx is cancelled or the root disappears.
	Start(ctx context.Context) error
	// Events is closed when the watcher stops.
	Events() <-chan ChangeEvent
	// Errors carries fatal conditions only, such as the root being removed.
	Errors() <-chan error
	Stop() error
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type       EventType
	Path       string
	ObservedAt time.Time
	ModTime    time.Time
	Size       int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Options configures either watcher implementation.
type Options struct {
	Root       string
	Extensions []string
	// IgnoreNames are directory or file base names skipped anywhere in the tree.
	IgnoreNames []string
	// IgnorePaths are absolute paths skipped together with everything below them.
	IgnorePaths  []string
	PollInterval time.Duration
	EventBuffer  int
	Logger       logging.Logger
}

const (
	defaultPollInterval = time.Second
	defaultEventBuffer  = 256
)

func (o *Options) normalize() error {
	root, err := ResolveRoot(o.Root)
	if err != nil {
		return err
	}
	o.Root = root

	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return nil
}

// ResolveRoot returns root as an absolute path after checking that it is an
// existing directory. Failures are fatal pipeline errors.
func ResolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("watch root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve watch root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", derrors.ErrRootMissing(abs, err)
	}
	if !info.IsDir() {
		return "", derrors.ErrRootNotDirectory(abs)
	}
	return abs, nil
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ExtensionFilter matches files whose extension is in exts, ignoring case.
func ExtensionFilter(exts []string) FileFilter {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return func(path string) bool {
		_, ok := set[strings.ToLower(filepath.Ext(path))]
		return ok
	}
}

// pathFilter holds the ignore rules for one root.
type pathFilter struct {
	root    string
	names   map[string]struct{}
	paths   []string
	matches FileFilter
}

func newPathFilter(opts Options) *pathFilter {
	names := make(map[string]struct{}, len(opts.IgnoreNames))
	for _, n := range opts.IgnoreNames {
		names[n] = struct{}{}
	}
	paths := make([]string, 0, len(opts.IgnorePaths))
	for _, p := range opts.IgnorePaths {
		if abs, err := filepath.Abs(p); err == nil {
			paths = append(paths, abs)
		}
	}
	return &pathFilter{
		root:    opts.Root,
		names:   names,
		paths:   paths,
		matches: ExtensionFilter(opts.Extensions),
	}
}

// skip reports whether path (file or directory) is excluded by ignore rules.
// The root itself is never skipped.
func (f *pathFilter) skip(path string) bool {
	if path == f.root {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if _, ok := f.names[base]; ok {
		return true
	}
	for _, p := range f.paths {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	// A file inside an ignored directory.
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if part == "." {
			continue
		}
		if _, ok := f.names[part]; ok || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// accept reports whether a file path should produce events.
func (f *pathFilter) accept(path string) bool {
	return !f.skip(path) && f.matches(path)
}

const (
	stateNew = iota
	stateRunning
	stateStopped
)

// lifecycle is the start/stop bookkeeping shared by both watchers.
type lifecycle struct {
	mu     sync.Mutex
	state  int
	events chan ChangeEvent
	errs   chan error
	stop   chan struct{}
	done   chan struct{}
}

func (l *lifecycle) init(buffer int) {
	l.events = make(chan ChangeEvent, buffer)
	l.errs = make(chan error, 4)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
}

func (l *lifecycle) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != stateNew {
		return ErrAlreadyStarted
	}
	l.state = stateRunning
	return nil
}

// end must be deferred by the run loop.
func (l *lifecycle) end() {
	close(l.events)
	close(l.errs)
	close(l.done)
}

func (l *lifecycle) halt() {
	l.mu.Lock()
	switch l.state {
	case stateNew:
		l.state = stateStopped
		close(l.stop)
		l.mu.Unlock()
		l.end()
		return
	case stateRunning:
		l.state = stateStopped
		close(l.stop)
	}
	l.mu.Unlock()
	<-l.done
}

func (l *lifecycle) emit(ctx context.Context, ev ChangeEvent) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *lifecycle) fail(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Events returns the change event channel.
func (l *lifecycle) Events() <-chan ChangeEvent { return l.events }

// Errors returns the fatal error channel.
func (l *lifecycle) Errors() <-chan error { return l.errs }

// New returns the watcher for mode, "poll" or "native".
func New(mode string, opts Options) (Watcher, error) {
	switch mode {
	case "", "poll":
		return NewPollingWatcher(opts)
	case "native":
		return NewNativeWatcher(opts)
	default:
		return nil, fmt.Errorf("unknown watch mode %q", mode)
	}
}
