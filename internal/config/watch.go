package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk and hands the
// freshly decoded Config to onChange. It is grounded on canvas/host.go's
// watchLoop: a single fsnotify.Watcher, debounced through a *time.Timer so a
// burst of writes (editors that write-then-rename) triggers one reload
// instead of several.
type Watcher struct {
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	onChange func(*Config, error)
}

// Watch starts watching path for changes and returns a Watcher whose Close
// stops it. onChange fires once immediately with the initial load, then
// again after every debounced change; a reload error is passed instead of
// a nil Config so the caller can decide whether to keep running on the
// last-known-good configuration.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config, error)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, logger: logger, watcher: fw, onChange: onChange}
	cfg, loadErr := Load(path)
	onChange(cfg, loadErr)

	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	var mu sync.Mutex
	var timer *time.Timer
	debounce := 200 * time.Millisecond

	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			cfg, err := Load(w.path)
			w.onChange(cfg, err)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// Close stops the underlying filesystem watch. Any in-flight debounced
// reload still fires.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
