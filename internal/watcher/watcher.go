// Package watcher reports changes to a single file, such as the settings
// file or the notice catalog.
//
// The parent directory is watched because fsnotify cannot watch a file that
// does not exist yet, and editors often replace files instead of writing them.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces bursts of events for one save.
const DefaultDebounce = 200 * time.Millisecond

// Change describes what happened to the target.
type Change struct {
	Path    string
	Removed bool
}

// Watcher calls onChange when the target file is created, written, replaced
// or removed.
type Watcher struct {
	targetPath string
	parentPath string
	onChange   func(Change)
	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	timer      *time.Timer
	pending    Change
	debounce   time.Duration
	mu         sync.Mutex
	running    bool
}

// New creates a watcher for targetPath.
func New(targetPath string, onChange func(Change)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	target := filepath.Clean(targetPath)
	return &Watcher{
		targetPath: target,
		parentPath: filepath.Dir(target),
		onChange:   onChange,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   DefaultDebounce,
	}, nil
}

// SetDebounce changes the coalescing window. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}
	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if path == w.parentPath {
		switch {
		case event.Op&fsnotify.Create != 0:
			log.Info().Str("path", w.parentPath).Msg("Parent directory recreated, re-establishing watch")
			_ = w.addWatch()
		case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
			w.schedule(Change{Path: w.targetPath, Removed: true})
		}
		return
	}
	if path != w.targetPath {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.schedule(Change{Path: w.targetPath, Removed: true})
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		// a recreate within the window cancels a pending removal
		w.schedule(Change{Path: w.targetPath})
	}
}

// schedule fires onChange once the target has been quiet for the debounce window.
func (w *Watcher) schedule(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.pending = c
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	c := w.pending
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}

	log.Info().Str("path", c.Path).Bool("removed", c.Removed).Msg("Watched file changed")
	if w.onChange != nil {
		w.onChange(c)
	}
}
