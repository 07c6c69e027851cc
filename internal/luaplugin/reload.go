package luaplugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce groups the events of one editor save.
const DefaultDebounce = 500 * time.Millisecond

// Reloader reloads scripts when their files change.
type Reloader struct {
	loader   *Loader
	dirs     []string
	log      *zap.SugaredLogger
	debounce time.Duration
	tick     time.Duration
}

// NewReloader watches dirs for script changes.
func NewReloader(loader *Loader, dirs []string, log *zap.SugaredLogger) *Reloader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reloader{
		loader:   loader,
		dirs:     dirs,
		log:      log,
		debounce: DefaultDebounce,
		tick:     100 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range r.dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		r.log.Infow("watching plugin folder", "dir", dir)
	}

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != Ext || ev.Op == fsnotify.Chmod {
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warnw("watcher error", "error", err)
		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < r.debounce {
					continue
				}
				delete(pending, path)
				r.apply(path)
			}
		}
	}
}

// apply reloads path, or unloads it when the file is gone.
func (r *Reloader) apply(path string) {
	if _, err := os.Stat(path); err != nil {
		r.loader.Unload(path)
		return
	}
	if err := r.loader.LoadFile(path); err != nil {
		r.log.Errorw("reload failed", "plugin", path, "error", err)
	}
}
