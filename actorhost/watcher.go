// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package actorhost

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads an actor from a module file on disk. Every
// settled write to the file is handed to the apply callback (normally
// a live update); updates the state machine rejects (stale revision,
// different actor) are logged and the running revision keeps serving.
type Watcher struct {
	path    string
	apply   func(module []byte) error
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// debounce coalesces the event bursts most editors and build tools
// produce for a single logical write.
const debounce = 250 * time.Millisecond

// Watch starts watching path, calling apply with the new module bytes
// after every settled write. Close stops it.
func Watch(path string, apply func(module []byte) error, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("actorhost: starting watcher: %w", err)
	}
	// Watch the directory: editors replace files by rename, which
	// drops a watch set on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("actorhost: watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		apply:   apply,
		logger:  logger,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("module watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() {
	module, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("reading updated module", "path", w.path, "error", err)
		return
	}
	if err := w.apply(module); err != nil {
		w.logger.Warn("hot reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("hot reload applied", "path", w.path)
}
