package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a registry directory tree for declaration changes and
// sends debounced notifications.
//
// fsnotify watches single directories, so every directory below the root is
// added at start and directories created later are added as they appear.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	root       string
	debounce   time.Duration
	extensions []string
	onChange   chan struct{}
	done       chan struct{}
}

// WatcherConfig holds watcher configuration options.
type WatcherConfig struct {
	Root        string
	DebounceDur time.Duration

	// Extensions limits notifications to files with these suffixes,
	// e.g. ".table". Empty means every file is relevant.
	Extensions []string
}

// DefaultWatcherConfig returns sensible defaults for the watcher.
func DefaultWatcherConfig(root string) WatcherConfig {
	return WatcherConfig{
		Root:        root,
		DebounceDur: 500 * time.Millisecond,
	}
}

// NewWatcher creates a new registry watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher:  fsw,
		root:       cfg.Root,
		debounce:   cfg.DebounceDur,
		extensions: cfg.Extensions,
		onChange:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the registry tree.
// Returns a channel that receives a signal when declarations change.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.addTree(w.root); err != nil {
		_ = w.fsWatcher.Close()
		return nil, err
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", p, err)
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return fmt.Errorf("watching directory %s: %w", p, err)
		}
		return nil
	})
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						slog.Warn("registry watcher: cannot watch new directory", "path", event.Name, "error", err)
					}
					// Files may already exist inside a directory moved in whole.
					pending = true
					timer = w.resetTimer(timer)
					continue
				}
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			timer = w.resetTimer(timer)
			pending = true

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Non-blocking send - drop if channel full
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("registry watcher error", "root", w.root, "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// resetTimer starts the debounce timer or pushes it back.
func (w *Watcher) resetTimer(timer *time.Timer) *time.Timer {
	if timer == nil {
		return time.NewTimer(w.debounce)
	}
	if !timer.Stop() {
		// Drain the timer channel if it already fired
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(w.debounce)
	return timer
}

// isRelevantEvent checks if the event should trigger a synchronization.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(w.extensions) == 0 {
		return true
	}
	return slices.ContainsFunc(w.extensions, func(ext string) bool {
		return strings.HasSuffix(base, ext)
	})
}
