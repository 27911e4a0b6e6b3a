package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader watches the config file and calls apply with each valid reload.
// Invalid files are logged and the previous config stays in effect.
type Reloader struct {
	watcher  *fsnotify.Watcher
	path     string
	apply    func(*Config)
	log      *slog.Logger
	debounce time.Duration
}

// NewReloader watches path's directory, so editors that replace the file
// by rename are still seen.
func NewReloader(path string, apply func(*Config), log *slog.Logger) (*Reloader, error) {
	if path == "" {
		path = DefaultPath()
	}
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}
	return &Reloader{
		watcher:  watcher,
		path:     filepath.Clean(path),
		apply:    apply,
		log:      log,
		debounce: defaultDebounce,
	}, nil
}

// Run blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait after the last write before reloading.
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(r.debounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("config watcher error", "err", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		r.log.Error("config reload failed", "err", err)
		return
	}
	r.apply(cfg)
	r.log.Info("config reloaded", "path", r.path)
}
