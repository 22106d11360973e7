package filewatcher

import (
	"errors"
	"log/slog"
	"path/filepath"
	"time"
)

// Option configures a FileWatcher
type Option func(*FileWatcher) error

// WithLogger sets the logger for the file watcher
func WithLogger(logger *slog.Logger) Option {
	return func(fw *FileWatcher) error {
		if logger != nil {
			fw.logger = logger
		}
		return nil
	}
}

// WithFiles adds files to watch. The files do not have to exist yet but
// their directories do.
func WithFiles(paths ...string) Option {
	return func(fw *FileWatcher) error {
		if len(paths) == 0 {
			return errors.New("filewatcher: no files given")
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			fw.files[abs] = struct{}{}
		}
		return nil
	}
}

// WithDebounce sets how long a file must stay unchanged before callbacks run.
func WithDebounce(d time.Duration) Option {
	return func(fw *FileWatcher) error {
		if d > 0 {
			fw.debounce = d
		}
		return nil
	}
}
