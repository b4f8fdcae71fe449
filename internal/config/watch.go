package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads path whenever it is written and passes the new config to
// onChange. Invalid edits are logged and skipped. The watcher stops when
// ctx is cancelled.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*Config)) error {
	logger = logger.With().Str("component", "config-watch").Logger()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory; editors replace files rather than write in place.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				cfg, err := LoadFile(abs)
				if err != nil {
					logger.Warn().Err(err).Msg("Ignoring config change")
					continue
				}
				logger.Info().Str("path", abs).Msg("Config reloaded")
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()

	return nil
}
