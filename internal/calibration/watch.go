package calibration

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the profile file when it changes on disk and swaps it into
// the handle once no plan is executing.
type Watcher struct {
	path   string
	handle *Handle
	idle   IdleWaiter
	logger *zap.Logger

	// OnSwap, if set, is called after every successful swap.
	OnSwap func(Profile)
}

func NewWatcher(path string, handle *Handle, idle IdleWaiter, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:   path,
		handle: handle,
		idle:   idle,
		logger: logger.Named("calibration_watcher"),
	}
}

// Run blocks until ctx is done. The parent directory is watched because
// editors and SaveFile replace the file instead of writing in place.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)
	w.logger.Info("Watching calibration profile", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload(ctx)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	p, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("Ignoring unreadable calibration profile", zap.Error(err))
		return
	}
	if p == w.handle.Current() {
		return
	}
	if err := w.handle.Swap(ctx, w.idle, p); err != nil {
		w.logger.Warn("Calibration swap abandoned", zap.Error(err))
		return
	}
	w.logger.Info("Calibration profile swapped", zap.String("profile", p.String()))
	if w.OnSwap != nil {
		w.OnSwap(p)
	}
}
