package tokenstore

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"cway-mcp/pkg/logging"
)

// Watcher reports session files that change on disk, so a running server
// drops cached sessions when the CLI logs a user in or out.
type Watcher struct {
	mu       sync.Mutex
	dir      string
	onChange func(key string)

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// NewWatcher creates a watcher for dir. onChange receives the key of every
// session file that is created, written, renamed or removed.
func NewWatcher(dir string, onChange func(key string)) *Watcher {
	return &Watcher{dir: dir, onChange: onChange}
}

// Start begins watching. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if w.onChange == nil {
		return errors.New("token watcher requires a change callback")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}

	w.fsWatcher = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	// Capture channels before releasing the lock so Stop cannot race them.
	go w.processEvents(fsw.Events, fsw.Errors, w.stopCh, w.doneCh)

	logging.Info("TokenWatcher", "Watching %s for session changes", w.dir)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	fsw := w.fsWatcher
	w.fsWatcher = nil
	w.mu.Unlock()

	<-done
	if err := fsw.Close(); err != nil {
		logging.Warn("TokenWatcher", "Failed to close watcher: %v", err)
	}
}

func (w *Watcher) processEvents(events <-chan fsnotify.Event, errs <-chan error, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.Error("TokenWatcher", err, "fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != fileExt || strings.HasPrefix(name, ".") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	key := strings.TrimSuffix(name, fileExt)
	logging.Debug("TokenWatcher", "Session file %s changed (%s)", key, event.Op)
	w.onChange(key)
}
