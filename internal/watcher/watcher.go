// Package watcher notifies when the watchlist file changes.
//
// The watcher observes the file's directory rather than the file, so it
// keeps working when an editor replaces the file or when the file is
// deleted and later recreated. Bursts of create/write events are collapsed
// by a debounce timer that restarts on every event; the callback runs on
// the watcher's own goroutine, so invocations never overlap.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc/panics"
)

// Watcher invokes a callback after the watched file settles.
type Watcher struct {
	path     string
	debounce time.Duration
	callback func()
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// New starts watching path. callback is invoked once per burst of changes,
// debounce after the last event of the burst.
func New(path string, debounce time.Duration, callback func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		callback: callback,
		logger:   logger.With("path", abs),
		fsw:      fsw,
	}, nil
}

// Run processes file events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.logger.Info("watching watchlist for changes", "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}

			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.logger.Debug("watchlist change detected", "op", event.Op.String())
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					timer.Reset(w.debounce)
				}
				fire = timer.C
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.logger.Warn("watchlist file was removed, waiting for it to reappear", "op", event.Op.String())
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-fire:
			fire = nil
			w.logger.Info("watchlist settled, reloading")
			if r := panics.Try(w.callback); r != nil {
				w.logger.Error("watchlist callback panic",
					"panic", fmt.Sprintf("%v", r.Value),
					"stack", string(r.Stack))
			}
		}
	}
}

// Close stops watching and releases the underlying handle.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
