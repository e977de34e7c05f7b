package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	derrors "github.com/conneroisu/docpress/internal/errors"
)

// NativeWatcher uses OS notifications through fsnotify. Directories created
// after Start are added as they appear.
type NativeWatcher struct {
	lifecycle
	opts    Options
	filter  *pathFilter
	watcher *fsnotify.Watcher
}

// NewNativeWatcher validates opts and returns an unstarted watcher.
func NewNativeWatcher(opts Options) (*NativeWatcher, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &NativeWatcher{
		opts:    opts,
		filter:  newPathFilter(opts),
		watcher: fsw,
	}
	w.lifecycle.init(opts.EventBuffer)
	return w, nil
}

// Start registers every directory under the root and begins forwarding events.
func (w *NativeWatcher) Start(ctx context.Context) error {
	if err := w.begin(); err != nil {
		return err
	}
	if err := w.addRecursive(ctx, w.opts.Root); err != nil {
		_ = w.watcher.Close()
		// Nothing is running yet, so close the channels here.
		w.end()
		return fmt.Errorf("watch %s: %w", w.opts.Root, err)
	}

	w.opts.Logger.Info(ctx, "Watching directory", "root", w.opts.Root, "mode", "native")

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and releases the fsnotify handle.
func (w *NativeWatcher) Stop() error {
	w.halt()
	return w.watcher.Close()
}

func (w *NativeWatcher) addRecursive(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.opts.Logger.Warn(ctx, err, "Skipping unreadable directory", "path", path)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.filter.skip(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *NativeWatcher) run(ctx context.Context) {
	defer w.end()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.handle(ctx, event) {
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Overflow and similar errors are transient; keep watching.
			w.opts.Logger.Warn(ctx, err, "File watcher error")
		}
	}
}

// handle converts one fsnotify event. It returns false when the loop must end.
func (w *NativeWatcher) handle(ctx context.Context, event fsnotify.Event) bool {
	if event.Name == w.opts.Root && event.Has(fsnotify.Remove|fsnotify.Rename) {
		if _, err := os.Stat(w.opts.Root); os.IsNotExist(err) {
			w.opts.Logger.Error(ctx, err, "Watched directory removed", "root", w.opts.Root)
			w.fail(derrors.ErrRootRemoved(w.opts.Root))
			return false
		}
	}

	now := time.Now()
	info, statErr := os.Stat(event.Name)

	if event.Has(fsnotify.Create) && statErr == nil && info.IsDir() {
		if w.filter.skip(event.Name) {
			return true
		}
		if err := w.addRecursive(ctx, event.Name); err != nil {
			w.opts.Logger.Warn(ctx, err, "Cannot watch new directory", "path", event.Name)
		}
		// Files may have landed before the directory was registered.
		return w.emitExisting(ctx, event.Name, now)
	}

	if !w.filter.accept(event.Name) {
		return true
	}

	var eventType EventType
	switch {
	case event.Has(fsnotify.Create):
		eventType = EventTypeCreated
	case event.Has(fsnotify.Write):
		eventType = EventTypeModified
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		eventType = EventTypeDeleted
	default:
		// Chmod only.
		return true
	}

	ev := ChangeEvent{Type: eventType, Path: event.Name, ObservedAt: now}
	if statErr == nil {
		ev.ModTime = info.ModTime()
		ev.Size = info.Size()
	} else if eventType != EventTypeDeleted && !os.IsNotExist(statErr) {
		w.opts.Logger.Warn(ctx, derrors.NewFilesystemError("ERR_STAT", event.Name, statErr), "Skipping file")
		return true
	}

	w.opts.Logger.Debug(ctx, "File changed", "path", ev.Path, "type", ev.Type.String())
	return w.emit(ctx, ev)
}

func (w *NativeWatcher) emitExisting(ctx context.Context, dir string, now time.Time) bool {
	keepGoing := true
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.filter.skip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.filter.accept(path) {
			return nil
		}
		ev := ChangeEvent{Type: EventTypeCreated, Path: path, ObservedAt: now}
		if info, err := d.Info(); err == nil {
			ev.ModTime = info.ModTime()
			ev.Size = info.Size()
		}
		if !w.emit(ctx, ev) {
			keepGoing = false
			return filepath.SkipAll
		}
		return nil
	})
	return keepGoing
}
