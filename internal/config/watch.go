package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file on change and swaps the result into live via
// ReplaceFrom. Editors write via rename, so the parent directory is watched
// rather than the file itself. onReload (optional) fires after a successful
// swap. Blocks until ctx is done.
func Watch(ctx context.Context, path string, live *Config, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	lastHash := live.Hash()
	base := filepath.Base(path)

	// Debounce bursts of write events from a single save.
	var pending <-chan time.Time

	reload := func() {
		fresh, err := Load(path)
		if err != nil {
			slog.Warn("config reload failed, keeping previous config", "path", path, "error", err)
			return
		}
		if h := fresh.Hash(); h == lastHash {
			return
		} else {
			lastHash = h
		}
		live.ReplaceFrom(fresh)
		slog.Info("config reloaded", "path", path, "hash", lastHash)
		if onReload != nil {
			onReload(live)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			reload()
		}
	}
}
