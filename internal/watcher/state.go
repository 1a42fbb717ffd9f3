// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StateWatcher watches one state file for writes from outside the daemon
// (ctl tooling, manual edits) and fires a debounced callback. The watch
// is on the parent directory so atomic tmp+rename writes are seen.
type StateWatcher struct {
	path      string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	onChange  func()
	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewStateWatcher starts watching path. onChange runs on the debounce
// timer's own goroutine after the debounce window.
func NewStateWatcher(path string, debounce time.Duration, onChange func()) (*StateWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &StateWatcher{
		path:      path,
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounce),
		onChange:  onChange,
		closeCh:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

func (w *StateWatcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
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
			w.debouncer.Debounce(w.path, w.onChange)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *StateWatcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.watcher.Close()
		w.debouncer.Stop()
		w.wg.Wait()
	})
}
