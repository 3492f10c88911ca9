package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reports changes to the watched setting keys. Editors often write
// settings through a temp file and a rename, so directories are watched and
// events are filtered by file name.
type Watcher struct {
	Loader   *Loader
	Debounce time.Duration
	Logger   *log.Logger
}

// Run blocks until ctx is cancelled. onChange receives the changed keys and
// is never called concurrently with itself.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, changed []string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: create watcher: %w", err)
	}
	defer fsw.Close()

	files := w.files()
	dirs := map[string]bool{}
	for file := range files {
		dir := filepath.Dir(file)
		if dirs[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			w.logger().Debug("settings directory not watched", "dir", dir, "err", err)
			continue
		}
		dirs[dir] = true
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	var (
		mu       sync.Mutex
		snapshot = w.Loader.Snapshot()
		timer    *time.Timer
		fired    = make(chan struct{}, 1)
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op.Has(fsnotify.Chmod) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			schedule()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger().Warn("settings watcher error", "err", err)
		case <-fired:
			next := w.Loader.Snapshot()
			changed := ChangedKeys(snapshot, next)
			snapshot = next
			if len(changed) == 0 {
				continue
			}
			w.logger().Info("settings changed", "keys", changed)
			onChange(ctx, changed)
		}
	}
}

func (w *Watcher) files() map[string]bool {
	out := map[string]bool{}
	if w.Loader.GlobalFile != "" {
		out[filepath.Clean(w.Loader.GlobalFile)] = true
	}
	for _, folder := range w.Loader.Folders {
		out[filepath.Clean(folder.SettingsPath())] = true
	}
	return out
}

func (w *Watcher) logger() *log.Logger {
	if w.Logger == nil {
		return log.Default()
	}
	return w.Logger
}
