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
	"sync"

	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// Stores opens group stores on first use and hands out the same Store for a
// group afterwards. When it has a Watcher, every store it opens is watched.
type Stores struct {
	base    string
	catalog map[string]parsers.Factory
	watcher *Watcher

	mu     sync.Mutex
	stores map[string]*Store
}

// creates a store cache over the configured data directory and the compiled
// parser catalog; watcher may be nil
func NewStoresFromConfig(watcher *Watcher) *Stores {
	return NewStores(config.Service.DataDirectory, parsers.Catalog(), watcher)
}

func NewStores(base string, catalog map[string]parsers.Factory, watcher *Watcher) *Stores {
	return &Stores{
		base:    base,
		catalog: catalog,
		watcher: watcher,
		stores:  make(map[string]*Store),
	}
}

// returns the store of the given group, opening it if needed
func (s *Stores) Open(group string) (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, found := s.stores[group]; found {
		return store, nil
	}
	store, err := New(s.base, group, s.catalog)
	if err != nil {
		return nil, err
	}
	if s.watcher != nil {
		if err := s.watcher.Watch(store); err != nil {
			return nil, err
		}
	}
	s.stores[group] = store
	return store, nil
}
