package rules

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the rules file when it changes on disk. Editors often
// emit several filesystem events per save, so reloads are debounced.
// Watches the parent directory rather than the file itself because
// rename-based saves replace the inode.
type Watcher struct {
	path   string
	engine *Engine
	logger *zap.Logger

	fw     *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for the given rules file.
func NewWatcher(path string, engine *Engine, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:   path,
		engine: engine,
		logger: logger,
		fw:     fw,
		done:   make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		defer close(w.done)

		var timer *time.Timer
		var pending <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
					pending = timer.C
				} else {
					timer.Reset(reloadDebounce)
				}

			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("rules watcher error", zap.Error(err))

			case <-pending:
				timer = nil
				pending = nil
				w.reload()
			}
		}
	}()
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fw.Close()
	<-w.done
}

// reload parses the file and swaps the rule set. A broken file keeps
// the previous rules running.
func (w *Watcher) reload() {
	ruleSet, err := LoadFile(w.path, w.logger)
	if err != nil {
		w.logger.Error("rules reload failed, keeping previous set",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.engine.SetRules(ruleSet)
	w.logger.Info("rules reloaded",
		zap.String("path", w.path),
		zap.Int("rules", len(ruleSet)),
	)
}
