package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce on save
const reloadDelay = 200 * time.Millisecond

// Watch reloads the configuration whenever its file changes on disk, until
// ctx is cancelled. The parent directory is watched so editors that replace
// the file on save are still seen. A reload that fails validation keeps the
// previous configuration.
func Watch(ctx context.Context, m *Manager) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	path, err := filepath.Abs(m.Path())
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	log.Printf("Config: Watching %s for changes", path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				reload = time.After(reloadDelay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("Config: Watcher error: %v", err)

		case <-reload:
			reload = nil
			if err := m.Load(); err != nil {
				log.Printf("Config: Warning: reload failed, keeping previous configuration: %v", err)
				continue
			}
			log.Printf("Config: Reloaded %s", path)
		}
	}
}
