// Package filewatcher reports changes to individual files.
//
// The parent directory of every file is watched rather than the file itself,
// so editors that save by writing a temp file and renaming it over the
// original are still noticed.
package filewatcher

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// FileWatcher watches a set of files and calls back once per burst of changes.
type FileWatcher struct {
	watcher     *fsnotify.Watcher
	files       map[string]struct{} // cleaned absolute paths
	logger      *slog.Logger
	callbacks   []func(string)
	callbacksMu sync.RWMutex
	debounce    time.Duration
	changes     map[string]time.Time
	changesMu   sync.Mutex
	done        chan struct{}
	stopOnce    sync.Once
}

// New creates a FileWatcher. Call Start to begin watching.
func New(opts ...Option) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:  watcher,
		files:    make(map[string]struct{}),
		logger:   slog.Default(),
		debounce: defaultDebounce,
		changes:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(fw); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return fw, nil
}

// AddCallback adds a callback to be called with the path of a changed file.
func (fw *FileWatcher) AddCallback(callback func(string)) {
	fw.callbacksMu.Lock()
	defer fw.callbacksMu.Unlock()
	fw.callbacks = append(fw.callbacks, callback)
}

// Start adds the watched directories and starts the event loop.
func (fw *FileWatcher) Start() error {
	dirs := make(map[string]struct{})
	for file := range fw.files {
		dirs[filepath.Dir(file)] = struct{}{}
	}
	for dir := range dirs {
		fw.logger.Info("Watching directory", "dir", dir)
		if err := fw.watcher.Add(dir); err != nil {
			return err
		}
	}

	go fw.watchLoop()
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop() {
	ticker := time.NewTicker(fw.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if fw.matches(event.Name) {
					fw.changesMu.Lock()
					fw.changes[filepath.Clean(event.Name)] = time.Now()
					fw.changesMu.Unlock()
				}
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", "error", err)
		case <-ticker.C:
			fw.processChanges()
		}
	}
}

// processChanges fires callbacks for files that have been quiet for the
// debounce period.
func (fw *FileWatcher) processChanges() {
	fw.changesMu.Lock()
	var ready []string
	now := time.Now()
	for file, changeTime := range fw.changes {
		if now.Sub(changeTime) >= fw.debounce {
			ready = append(ready, file)
			delete(fw.changes, file)
		}
	}
	fw.changesMu.Unlock()

	for _, file := range ready {
		fw.logger.Info("File changed", "file", file)
		fw.notifyCallbacks(file)
	}
}

func (fw *FileWatcher) notifyCallbacks(file string) {
	fw.callbacksMu.RLock()
	defer fw.callbacksMu.RUnlock()

	for _, callback := range fw.callbacks {
		callback(file)
	}
}

func (fw *FileWatcher) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	_, ok := fw.files[abs]
	return ok
}
