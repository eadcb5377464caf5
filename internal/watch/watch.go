// Package watch re-runs a callback when artifact files below a directory
// change. Bursts of events are coalesced by a debounce window.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	Dir      string
	Debounce time.Duration
	// Filter selects the files that trigger a change. All files do when nil.
	Filter func(path string) bool
	Logger *slog.Logger
}

// Watcher watches a directory tree.
type Watcher struct {
	fw       *fsnotify.Watcher
	dir      string
	debounce time.Duration
	filter   func(string) bool
	logger   *slog.Logger
}

// New starts watching cfg.Dir and all of its non-hidden subdirectories.
// Events are delivered once Run is called.
func New(cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Filter == nil {
		cfg.Filter = func(string) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fw:       fw,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		filter:   cfg.Filter,
		logger:   cfg.Logger,
	}
	if err := w.addRecursive(cfg.Dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Dir, err)
	}
	return w, nil
}

// Run calls onChange with the sorted paths that changed in each debounce
// window until ctx is done. onChange runs on the watch goroutine, so events
// arriving meanwhile are batched into the next call. The watcher is closed
// when Run returns.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string)) error {
	defer func() { _ = w.fw.Close() }()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending = make(map[string]bool)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			pending[event.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			w.logger.Debug("files changed", "count", len(paths))
			onChange(ctx, paths)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handle reports whether event concerns a watched artifact. New
// directories are added to the watch list.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		switch err := w.addRecursive(event.Name); {
		case err == nil:
			return false
		case !errors.Is(err, errNotDir) && !errors.Is(err, fs.ErrNotExist):
			w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return w.filter(event.Name)
}

var errNotDir = errors.New("not a directory")

// addRecursive adds root and every non-hidden directory below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if path == root {
				return errNotDir
			}
			return nil
		}
		if path != w.dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}
