package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the runtime fields of cfg whenever the file at path is
// written, then calls onReload. It blocks until ctx is done.
//
// The parent directory is watched so that editors replacing the file via
// rename are picked up as well.
func Watch(ctx context.Context, path string, cfg *Config, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			next, err := LoadConfigFile(abs)
			if err != nil {
				log.Warn().Err(err).Str("path", abs).Msg("config reload skipped")
				continue
			}

			cfg.ApplyRuntime(next)
			log.Info().
				Str("path", abs).
				Uint("cadence", cfg.GetCadence()).
				Int("players", cfg.GetPlayers()).
				Msg("config reloaded")

			if onReload != nil {
				onReload(cfg)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
