package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher
	log  *slog.Logger
}

// NewWatcher watches the directory holding path, so editors that replace
// the file on save are noticed as well.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{path: abs, fsw: fsw, log: logger.With("component", "config")}, nil
}

// Run calls fn with every config that loads and validates after a change.
// Invalid edits are logged and skipped. It returns when ctx ends.
func (w *Watcher) Run(ctx context.Context, fn func(Config)) {
	defer w.fsw.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDebounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("Config watcher error", "err", err)

		case <-timer.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("Ignoring config change", "path", w.path, "err", err)
				continue
			}
			w.log.Info("Config reloaded", "path", w.path)
			fn(cfg)
		}
	}
}
