package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ChrisB0-2/radarr-prune/internal/logger"
)

// Watcher reloads the config file when it changes on disk.
// Events are debounced so an editor's write+rename burst yields one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	log      logger.Logger
}

// NewWatcher creates a watcher for path. A zero debounce defaults to 250ms.
func NewWatcher(path string, debounce time.Duration, log logger.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		log:      log,
	}
}

// Watch blocks until ctx is canceled. onReload is called with every config
// that loads and validates successfully; invalid edits are logged and skipped.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: many editors replace the file instead of writing it.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.log.Info("config watcher started", logger.F("path", w.path))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("config watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", logger.F("error", err.Error()))

		case <-fire:
			fire = nil
			w.reload(onReload)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) reload(onReload func(*Config)) {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed", logger.F("error", err.Error()))
		return
	}
	if err := ApplyEnv(cfg); err != nil {
		w.log.Warn("config reload rejected", logger.F("error", err.Error()))
		return
	}
	if err := Validate(cfg); err != nil {
		w.log.Warn("config reload rejected", logger.F("error", err.Error()))
		return
	}

	w.log.Info("config reloaded", logger.F("path", w.path))
	onReload(cfg)
}
