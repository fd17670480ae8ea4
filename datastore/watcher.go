// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// A Watcher keeps the parser registries of open stores in sync with their
// manifests for as long as its context lives.
type Watcher struct {
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	stores map[string]*Store // by parser directory
	// called after a store's registry was rebuilt (tests)
	onReload func(*Store)
}

// starts a watcher that stops when ctx is done
func NewWatcher(ctx context.Context) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher: fw,
		stores:  make(map[string]*Store),
	}
	go w.run(ctx)
	return w, nil
}

// watches the parser directory of the given store
func (w *Watcher) Watch(s *Store) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, found := w.stores[s.ParserPath()]; found {
		return nil
	}
	if err := w.watcher.Add(s.ParserPath()); err != nil {
		return err
	}
	w.stores[s.ParserPath()] = s
	return nil
}

// returns the watched store of the given group, if any
func (w *Watcher) Store(group string) (*Store, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.stores {
		if s.Group() == group {
			return s, true
		}
	}
	return nil, false
}

func (w *Watcher) run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isManifest(filepath.Base(event.Name)) || event.Op == fsnotify.Chmod {
				continue
			}
			w.mu.Lock()
			s, found := w.stores[filepath.Dir(event.Name)]
			onReload := w.onReload
			w.mu.Unlock()
			if !found {
				continue
			}
			slog.Debug(fmt.Sprintf("Parser manifest %s changed (%s)", event.Name, event.Op))
			if err := s.Reload(); err != nil {
				slog.Error(fmt.Sprintf("Couldn't reload the parsers of %s: %s", s.Group(), err.Error()))
				continue
			}
			if onReload != nil {
				onReload(s)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error(fmt.Sprintf("Parser manifest watcher: %s", err.Error()))
		}
	}
}
