package kb

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces bursts of file events into one reload.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watch reloads the index whenever a file under the types directory, the
// docs index, or the smart context tree changes. It blocks until ctx is
// done. A watcher that cannot start is logged and Watch returns nil; the
// knowledge base keeps serving the index it has.
func (k *KB) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		k.log.WarnContext(ctx, "kb.watch.unavailable", slog.String("err", err.Error()))
		return nil
	}
	defer func() {
		_ = w.Close()
	}()

	for _, root := range k.watchRoots() {
		addDirs(w, root)
	}

	d := &debouncer{interval: debounce, fire: func() { k.Reload(ctx) }}
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					addDirs(w, ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			k.log.DebugContext(ctx, "kb.watch.err", slog.String("err", err.Error()))
		}
	}
}

func (k *KB) watchRoots() []string {
	var roots []string
	if k.cfg.TypesDir != "" {
		roots = append(roots, k.cfg.TypesDir)
	}
	if k.cfg.IndexFile != "" {
		roots = append(roots, filepath.Dir(k.cfg.IndexFile))
	}
	if k.cfg.SmartContextDir != "" {
		roots = append(roots, k.cfg.SmartContextDir)
	}
	return roots
}

func addDirs(w *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = w.Add(p)
		}
		return nil
	})
}

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	fire     func()
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interval <= 0 {
		d.fire()
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.fire)
		return
	}
	d.timer.Reset(d.interval)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
