package moderation

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fixmarket/pulse/internal/observability"
)

// watchDebounce coalesces the burst of fsnotify events editors emit per save.
const watchDebounce = 250 * time.Millisecond

// Watcher hot-reloads a classifier's pattern tables when the configured file
// changes. Reload failures keep the previous tables in place.
type Watcher struct {
	path       string
	classifier *PatternClassifier
	logger     *observability.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching path and applying changes to classifier.
// Call Close to release the watch.
func NewWatcher(ctx context.Context, path string, classifier *PatternClassifier, logger *observability.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:       path,
		classifier: classifier,
		logger:     logger,
		watcher:    fsw,
		done:       make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Close stops the watch. Safe to call once.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var pending *time.Timer
	reload := func() {
		rs, err := LoadRuleset(w.path)
		if err != nil {
			w.logger.Warn(ctx, "moderation ruleset reload failed", "path", w.path, "error", err)
			return
		}
		if err := w.classifier.Reload(rs); err != nil {
			w.logger.Warn(ctx, "moderation ruleset rejected", "path", w.path, "error", err)
			return
		}
		w.logger.Info(ctx, "moderation ruleset reloaded", "path", w.path)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "moderation watcher error", "error", err)
		}
	}
}
