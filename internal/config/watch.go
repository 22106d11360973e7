package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/filewatcher"
)

// Watcher reloads a config file whenever it changes.
type Watcher struct {
	fw *filewatcher.FileWatcher
}

// Watch calls apply with the freshly loaded configuration each time the file
// at path changes. A file that fails to load or validate is logged and
// skipped; apply is not called and the previous configuration stays in force.
func Watch(path string, logger *slog.Logger, debounce time.Duration, apply func(*ServerConfig)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := filewatcher.New(
		filewatcher.WithLogger(logger),
		filewatcher.WithFiles(path),
		filewatcher.WithDebounce(debounce),
	)
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	fw.AddCallback(func(string) {
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("Ignoring config change", "path", path, "error", err)
			return
		}
		logger.Info("Config reloaded", "path", path)
		apply(cfg)
	})
	if err := fw.Start(); err != nil {
		fw.Stop()
		return nil, fmt.Errorf("config watch: %w", err)
	}
	return &Watcher{fw: fw}, nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	return w.fw.Stop()
}
