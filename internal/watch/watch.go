// Package watch reloads a specimen photo when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports settled changes to a single file. It watches the parent
// directory so editors that save by rename are still seen.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func(path string)
	log      *zap.Logger

	mu      sync.Mutex
	dirty   time.Time
	changes int
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a stopped watcher. onChange runs on the watcher goroutine once
// no event has arrived for the debounce period.
func New(path string, debounce time.Duration, onChange func(path string), log *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		path:     abs,
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		log:      log.With(zap.String("path", abs)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch: add %s: %w", filepath.Dir(w.path), err)
	}
	w.running = true
	go w.run(ctx)
	return nil
}

// Stop ends the watch and waits for the event goroutine.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.fsw.Close(); err != nil {
		w.log.Warn("close watcher", zap.Error(err))
	}
}

// Changes is the number of settled changes delivered.
func (w *Watcher) Changes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changes
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-tick.C:
			w.flush()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.log.Debug("event", zap.Stringer("op", ev.Op))
	w.mu.Lock()
	w.dirty = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.dirty.IsZero() || time.Since(w.dirty) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.dirty = time.Time{}
	w.changes++
	w.mu.Unlock()

	w.log.Info("file changed")
	if w.onChange != nil {
		w.onChange(w.path)
	}
}
