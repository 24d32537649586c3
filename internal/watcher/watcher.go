// Package watcher re-indexes a collection when files under its roots change.
// Events are debounced so a burst of saves triggers one run.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period before a change triggers a run
const DefaultDebounce = 2 * time.Second

// ChangeFunc is called once per debounced burst of changes
type ChangeFunc func(ctx context.Context) error

// Watcher watches directory trees and calls a ChangeFunc after changes settle
type Watcher struct {
	roots    []string
	debounce time.Duration
	onChange ChangeFunc
	logger   zerolog.Logger

	fs     *fsnotify.Watcher
	mu     sync.Mutex
	timer  *time.Timer
	fire   chan struct{}
	events int
}

// New creates a watcher over roots. Missing roots are an error.
func New(roots []string, debounce time.Duration, onChange ChangeFunc, logger zerolog.Logger) (*Watcher, error) {
	if len(roots) == 0 {
		return nil, errors.New("no paths to watch")
	}
	for _, r := range roots {
		info, err := os.Stat(r)
		if err != nil {
			return nil, fmt.Errorf("watch path %s: %w", r, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("watch path %s is not a directory", r)
		}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		roots:    roots,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		fs:       fw,
		fire:     make(chan struct{}, 1),
	}, nil
}

// Run watches until ctx is done. Changes are handled one run at a time;
// events arriving during a run schedule another.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	w.logger.Info().Strs("paths", w.roots).Dur("debounce", w.debounce).Msg("watching for changes")

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("watcher error")

		case <-w.fire:
			w.mu.Lock()
			n := w.events
			w.events = 0
			w.mu.Unlock()

			w.logger.Info().Int("events", n).Msg("changes settled, re-indexing")
			if err := w.onChange(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error().Err(err).Msg("re-index failed")
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.hidden(event.Name) {
		return
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
		}
	}

	w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("change detected")
	w.schedule()
}

// schedule restarts the debounce timer
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.fire <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// addTree watches dir and every non-hidden directory below it
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// hidden reports whether any element of path below its root starts with a
// dot, which covers .git, .obsidian and editor swap files
func (w *Watcher) hidden(path string) bool {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
			if len(part) > 1 && strings.HasPrefix(part, ".") {
				return true
			}
		}
		return false
	}
	return false
}
