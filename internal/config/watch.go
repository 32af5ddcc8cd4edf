package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events one editor save produces.
const reloadDelay = 250 * time.Millisecond

// Watch reloads the config at path after it changes and hands the result to
// onChange, until ctx is cancelled. It watches the containing directory, so
// saves that replace the file by rename keep being seen. Events are
// debounced; a reload that fails to parse is logged and the previous config
// stays with the caller.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return watch(ctx, path, reloadDelay, onChange)
}

func watch(ctx context.Context, path string, delay time.Duration, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	log := slog.Default().With("config", target)
	log.Info("watching config for changes", "debounce", delay)

	timer := time.NewTimer(delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(delay)

		case <-timer.C:
			cfg, err := Load(target)
			if err != nil {
				log.Error("config reload failed, keeping previous", "error", err)
				continue
			}
			log.Info("config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher error", "error", err)
		}
	}
}
