package plugins

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an unpacking archive produces
// into one (re)initialisation.
const watchDebounce = 500 * time.Millisecond

// Watch reacts to plugin packages appearing in or vanishing from the
// plugins directory while the daemon runs: new directories initialise,
// removed ones deactivate and leave the catalogue. Blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.paths.PluginsDir); err != nil {
		return err
	}
	log.Printf("[Plugins] watching %s", m.paths.PluginsDir)

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
	)

	flush := func() {
		mu.Lock()
		batch := pending
		pending = make(map[string]struct{})
		mu.Unlock()

		for pluginID := range batch {
			dir := filepath.Join(m.paths.PluginsDir, pluginID)
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				if err := m.Reload(ctx, pluginID); err != nil {
					log.Printf("[Plugins] failed to initialise %s after change: %v", pluginID, err)
				}
				continue
			}
			if err := m.Deactivate(ctx, pluginID); err != nil {
				continue
			}
			m.pruneCatalogue(pluginID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			pending[filepath.Base(event.Name)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, flush)
			} else {
				timer.Reset(watchDebounce)
			}
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Plugins] watcher error: %v", err)
		}
	}
}
