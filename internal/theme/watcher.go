package theme

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce collapses the burst of events an editor produces on save.
const defaultDebounce = 500 * time.Millisecond

// Logger is the logging interface used by the watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Watcher signals when a theme file changes on disk.
//
// It watches the file's directory rather than the file itself so that
// editors which save atomically (write a temp file, then rename) are seen.
// The callback runs on the watcher goroutine after a debounce period; it
// should hand the work off rather than block.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   Logger
}

// NewWatcher creates a watcher for the theme file at path.
// A zero debounce uses the default of 500ms.
func NewWatcher(path string, debounce time.Duration, onChange func()) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.mu.Lock()
	w.logger = logger
	w.mu.Unlock()
}

// Start begins watching. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating theme watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("watching theme directory: %w", err)
	}

	w.watcher = fw
	w.stopChan = make(chan struct{})

	w.wg.Add(1)
	go w.watchLoop(fw, w.stopChan)

	w.logger.Debug("watching theme file", "path", w.path)
	return nil
}

// Stop stops watching and waits for the watch goroutine to exit.
// Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	close(w.stopChan)
	fw := w.watcher
	w.watcher = nil
	w.stopChan = nil
	w.mu.Unlock()

	fw.Close() //nolint:errcheck // Closing the event source ends the loop
	w.wg.Wait()
}

func (w *Watcher) watchLoop(fw *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-stop:
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				// The file may have been removed for good rather than replaced.
				if _, err := os.Stat(w.path); err != nil {
					return
				}
				select {
				case <-stop:
					return
				default:
				}
				w.getLogger().Debug("theme file changed", "path", w.path)
				w.onChange()
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.getLogger().Warn("theme watcher error", "error", err)
		}
	}
}

// relevant reports whether event may have replaced or modified the theme file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}

	eventPath := filepath.Clean(event.Name)
	if eventPath == w.path {
		return true
	}

	// Atomic saves surface as a Create/Rename of a file with the same base name.
	return filepath.Base(eventPath) == filepath.Base(w.path) &&
		event.Op&(fsnotify.Create|fsnotify.Rename) != 0
}

// getLogger returns the current logger.
func (w *Watcher) getLogger() Logger {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger
}
