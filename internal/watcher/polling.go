package watcher

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	derrors "github.com/conneroisu/docpress/internal/errors"
)

// fileState is one entry of a directory snapshot.
type fileState struct {
	ModTime time.Time
	Size    int64
	Sum     uint64
}

type snapshot map[string]fileState

// PollingWatcher scans the root on a fixed interval and diffs successive
// snapshots. It is the default because it behaves the same on bind mounts,
// network filesystems and container volumes where native notifications are
// unreliable.
type PollingWatcher struct {
	lifecycle
	opts   Options
	filter *pathFilter
	last   snapshot
}

// NewPollingWatcher validates opts and returns an unstarted watcher.
func NewPollingWatcher(opts Options) (*PollingWatcher, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	w := &PollingWatcher{
		opts:   opts,
		filter: newPathFilter(opts),
	}
	w.lifecycle.init(opts.EventBuffer)
	return w, nil
}

// Start takes the baseline snapshot synchronously, so any change made after
// Start returns is reported, then polls in the background.
func (w *PollingWatcher) Start(ctx context.Context) error {
	if err := w.begin(); err != nil {
		return err
	}

	w.last = w.scan(ctx, nil)
	w.opts.Logger.Info(ctx, "Watching directory",
		"root", w.opts.Root,
		"mode", "poll",
		"interval", w.opts.PollInterval.String(),
		"files", len(w.last))

	go w.run(ctx)
	return nil
}

// Stop stops polling and closes both channels.
func (w *PollingWatcher) Stop() error {
	w.halt()
	return nil
}

func (w *PollingWatcher) run(ctx context.Context) {
	defer w.end()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}

		if _, err := os.Stat(w.opts.Root); err != nil {
			if os.IsNotExist(err) {
				w.opts.Logger.Error(ctx, err, "Watched directory removed", "root", w.opts.Root)
				w.fail(derrors.ErrRootRemoved(w.opts.Root))
				return
			}
			w.opts.Logger.Warn(ctx, err, "Cannot stat watched directory, retrying", "root", w.opts.Root)
			continue
		}

		next := w.scan(ctx, w.last)
		for _, ev := range diffSnapshots(w.last, next, time.Now()) {
			w.opts.Logger.Debug(ctx, "File changed", "path", ev.Path, "type", ev.Type.String())
			if !w.emit(ctx, ev) {
				return
			}
		}
		w.last = next
	}
}

// scan walks the root and fingerprints every accepted file. Content is only
// rehashed when size or modtime moved; a path that fails to stat or read
// keeps its previous state so a transient error never looks like a delete.
func (w *PollingWatcher) scan(ctx context.Context, prev snapshot) snapshot {
	next := make(snapshot, len(prev))

	_ = filepath.WalkDir(w.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.opts.Root {
				return err
			}
			w.opts.Logger.Warn(ctx, derrors.NewFilesystemError("ERR_WALK", path, err), "Skipping unreadable path")
			if old, ok := prev[path]; ok {
				next[path] = old
			}
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

		info, err := d.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				w.opts.Logger.Warn(ctx, derrors.NewFilesystemError("ERR_STAT", path, err), "Skipping file")
				if old, ok := prev[path]; ok {
					next[path] = old
				}
			}
			return nil
		}

		state := fileState{ModTime: info.ModTime(), Size: info.Size()}
		if old, ok := prev[path]; ok && old.ModTime.Equal(state.ModTime) && old.Size == state.Size {
			state.Sum = old.Sum
			next[path] = state
			return nil
		}

		sum, err := fingerprint(path)
		if err != nil {
			if !os.IsNotExist(err) {
				w.opts.Logger.Warn(ctx, derrors.NewFilesystemError("ERR_READ", path, err), "Skipping file")
				if old, ok := prev[path]; ok {
					next[path] = old
				}
			}
			return nil
		}
		state.Sum = sum
		next[path] = state
		return nil
	})

	return next
}

func fingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// diffSnapshots returns the events that turn prev into next, sorted by path.
// A file is modified when its modtime, size or content fingerprint moved, so
// saving unchanged bytes still counts as an edit. The fingerprint catches
// same-size rewrites inside one modtime tick.
func diffSnapshots(prev, next snapshot, observedAt time.Time) []ChangeEvent {
	var events []ChangeEvent

	for path, cur := range next {
		old, existed := prev[path]
		switch {
		case !existed:
			events = append(events, ChangeEvent{
				Type: EventTypeCreated, Path: path, ObservedAt: observedAt,
				ModTime: cur.ModTime, Size: cur.Size,
			})
		case !old.ModTime.Equal(cur.ModTime) || old.Size != cur.Size || old.Sum != cur.Sum:
			events = append(events, ChangeEvent{
				Type: EventTypeModified, Path: path, ObservedAt: observedAt,
				ModTime: cur.ModTime, Size: cur.Size,
			})
		}
	}

	for path, old := range prev {
		if _, ok := next[path]; !ok {
			events = append(events, ChangeEvent{
				Type: EventTypeDeleted, Path: path, ObservedAt: observedAt,
				ModTime: old.ModTime,
			})
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}
