package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/modlnet/modl/internal/logging"
)

// Watch reloads the config file whenever it changes and passes each valid
// result to fn. Invalid edits are logged and skipped. The parent directory
// is watched so editors that replace the file by rename are handled. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	path = filepath.Clean(expandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logging.Warn("config reload rejected",
					"path", path,
					logging.Err(err),
					logging.Component("config"))
				continue
			}
			logging.Info("config reloaded", "path", path, logging.Component("config"))
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("config watcher error", logging.Err(err), logging.Component("config"))
		}
	}
}
