package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"aide/internal/logging"
)

// Watcher reloads the config file when it changes on disk and notifies
// the registered callback with the fresh config.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
}

// NewWatcher watches the given config file. onReload is called with the
// newly loaded config after every change; a file that fails to parse keeps
// the previous config in effect.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{path: path, watcher: fsw, onReload: onReload}, nil
}

// Run processes filesystem events until the context is canceled.
// Rapid event bursts are debounced before reloading.
func (w *Watcher) Run(ctx context.Context) {
	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.BootError("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.BootError("Config reload failed, keeping previous config: %v", err)
		return
	}

	logging.Boot("Config reloaded from %s", w.path)
	if err := logging.ReloadConfig(); err != nil {
		logging.BootError("Logging config reload failed: %v", err)
	}
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
