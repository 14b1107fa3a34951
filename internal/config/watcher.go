package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/harun/lainbot/pkg/provider"
)

// DefaultWatchDebounce is how long the provider file must stay quiet
// before it is reloaded.
const DefaultWatchDebounce = 250 * time.Millisecond

// ProvidersChanged receives the new provider set after each valid change.
type ProvidersChanged func(ctx context.Context, configs []provider.Config)

// WatchProviders reloads the provider file whenever it changes and hands
// the result to fn. The parent directory is watched so editors that
// replace the file by rename are followed. Invalid contents are logged and
// skipped. It blocks until ctx is done.
func WatchProviders(ctx context.Context, path string, debounce time.Duration, fn ProvidersChanged) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve provider file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log.Info().Str("path", abs).Msg("Watching provider file")

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("path", abs).Msg("Provider file watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			reload = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Provider watcher error")

		case <-reload:
			reload = nil
			configs, err := LoadProviders(abs)
			if err != nil {
				log.Error().Err(err).Str("path", abs).Msg("Ignoring invalid provider file change")
				continue
			}
			log.Info().Int("providers", len(configs)).Msg("Provider file changed, reconciling")
			fn(ctx, configs)
		}
	}
}
