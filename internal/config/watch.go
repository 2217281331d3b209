package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"repsync/pkg/logger"
)

// Watch reloads the configuration whenever the file changes and hands the
// new value to onChange. Invalid edits are logged and skipped, keeping the
// last good configuration in effect. Watch blocks until ctx ends.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log := logger.Component("config")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config change")
				continue
			}
			log.Info().Str("path", path).Msg("Config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Config watcher error")
		}
	}
}
