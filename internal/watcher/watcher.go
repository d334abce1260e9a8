// Package watcher reports changes to grammar files, debounced so that an
// editor's save burst becomes one batch.
package watcher

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/tmscope/internal/log"
)

// Change is a file that was written, created or removed.
type Change struct {
	Path    string
	Removed bool
}

// Watcher monitors directories and sends batches of changed files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dirs      []string
	match     func(name string) bool
	debounce  time.Duration
	onChange  chan []Change
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// Dirs are watched non-recursively.
	Dirs []string
	// Match selects the file names that matter; nil accepts every file.
	Match       func(name string) bool
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(dirs ...string) Config {
	return Config{
		Dirs:        dirs,
		DebounceDur: 200 * time.Millisecond,
	}
}

// New creates a new watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	match := cfg.Match
	if match == nil {
		match = func(string) bool { return true }
	}
	return &Watcher{
		fsWatcher: fsw,
		dirs:      cfg.Dirs,
		match:     match,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan []Change, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. The returned channel receives each debounced batch
// of changes, sorted by path.
func (w *Watcher) Start() (<-chan []Change, error) {
	for _, dir := range w.dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending = make(map[string]bool) // path -> removed
	)
	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			removed, relevant := w.classify(event)
			if !relevant {
				continue
			}
			pending[event.Name] = removed

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC():
			timer = nil
			if len(pending) == 0 {
				continue
			}
			batch := make([]Change, 0, len(pending))
			for path, removed := range pending {
				batch = append(batch, Change{Path: path, Removed: removed})
			}
			sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
			pending = make(map[string]bool)

			select {
			case w.onChange <- batch:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// classify reports whether event matters and whether it removed the file.
func (w *Watcher) classify(event fsnotify.Event) (removed, relevant bool) {
	if !w.match(filepath.Base(event.Name)) {
		return false, false
	}
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return true, true
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		return false, true
	default:
		return false, false
	}
}
