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

// Package datastore manages the per-group file areas of the uploader. Each
// group owns a directory under the configured base path holding uploaded
// files and a parsers/ sub-directory of parser manifests.
package datastore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// the name of the reserved sub-directory holding parser manifests
const ParsersDirectory = "parsers"

// information about a file in a data store
type FileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
	Created  time.Time `json:"created"`
	Size     int64     `json:"size"`
}

// A Store is the data area of one group: its uploaded files and its parser
// registry.
type Store struct {
	path  string
	group string

	// compiled parsers available to every store
	catalog map[string]parsers.Factory

	mu       sync.RWMutex
	registry map[string]parsers.Factory
}

// opens the store of the given group under the configured data directory,
// with every compiled parser available
func NewFromConfig(group string) (*Store, error) {
	return New(config.Service.DataDirectory, group, parsers.Catalog())
}

// opens the store of the given group under base, creating its directory and
// parser directory when needed. The parser registry holds the parsers
// declared by the store's manifests plus the given compiled parsers whose
// names the manifests don't claim.
func New(base, group string, catalog map[string]parsers.Factory) (*Store, error) {
	if err := checkName(group); err != nil {
		return nil, err
	}
	path, err := filepath.Abs(filepath.Join(base, group))
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Join(path, ParsersDirectory), 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     path,
		group:    group,
		catalog:  catalog,
		registry: make(map[string]parsers.Factory),
	}
	if err = s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// names may not leave the store
// names starting with a dot are reserved for uploads in progress
func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func checkName(name string) error {
	if name == "" || hidden(name) || strings.ContainsAny(name, `/\`) {
		return &InvalidNameError{Name: name}
	}
	return nil
}

// the absolute path of the store
func (s *Store) Path() string {
	return s.path
}

// the group owning the store
func (s *Store) Group() string {
	return s.group
}

// the directory holding the store's parser manifests
func (s *Store) ParserPath() string {
	return filepath.Join(s.path, ParsersDirectory)
}

//-------
// Files
//-------

func fileInfo(path string, info fs.FileInfo) FileInfo {
	return FileInfo{
		Name:     info.Name(),
		Path:     path,
		Modified: info.ModTime(),
		Created:  createdTime(info),
		Size:     info.Size(),
	}
}

// lists the files (not directories) in the store whose names match the
// given glob pattern, sorted by name; no match gives an empty list
func (s *Store) ListFiles(pattern string) ([]FileInfo, error) {
	if strings.ContainsAny(pattern, `/\`) {
		return nil, &InvalidNameError{Name: pattern}
	}
	matches, err := filepath.Glob(filepath.Join(s.path, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	files := make([]FileInfo, 0, len(matches))
	for _, match := range matches {
		if hidden(filepath.Base(match)) {
			continue
		}
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, fileInfo(match, info))
	}
	return files, nil
}

// lists the files matching pattern that were modified less than maxAge ago
func (s *Store) RecentFiles(pattern string, maxAge time.Duration) ([]FileInfo, error) {
	files, err := s.ListFiles(pattern)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	recent := make([]FileInfo, 0, len(files))
	for _, f := range files {
		if now.Sub(f.Modified) < maxAge {
			recent = append(recent, f)
		}
	}
	return recent, nil
}

// returns the paths of the files whose names are exactly name
func (s *Store) GetFile(name string) ([]string, error) {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, 1)
	for _, entry := range entries {
		if entry.Name() == name && !entry.IsDir() && !hidden(name) {
			paths = append(paths, filepath.Join(s.path, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, &FileNotFoundError{Group: s.group, Name: name}
	}
	return paths, nil
}

// writes the content of r to the named file, replacing any existing file
func (s *Store) SaveFile(name string, r io.Reader) (FileInfo, error) {
	if err := checkName(name); err != nil {
		return FileInfo{}, err
	}
	path := filepath.Join(s.path, name)
	// write next to the target and rename so readers never see a partial file
	tmp, err := os.CreateTemp(s.path, "."+name+".*")
	if err != nil {
		return FileInfo{}, err
	}
	_, err = io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return FileInfo{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	slog.Info(fmt.Sprintf("Saved %s (%d bytes) in the data store of %s", name, info.Size(), s.group))
	return fileInfo(path, info), nil
}

// deletes the named file
func (s *Store) DeleteFile(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.path, name))
	if errors.Is(err, fs.ErrNotExist) {
		return &FileNotFoundError{Group: s.group, Name: name}
	}
	if err == nil {
		slog.Info(fmt.Sprintf("Deleted %s from the data store of %s", name, s.group))
	}
	return err
}

//---------
// Parsers
//---------

// registers (or replaces) a parser in this store's registry
func (s *Store) RegisterParser(name string, factory parsers.Factory) error {
	if factory == nil {
		return &NotAParserError{Name: name}
	}
	if err := func() (err error) {
		// a factory that panics doesn't make a parser either
		defer func() {
			if recover() != nil {
				err = &NotAParserError{Name: name}
			}
		}()
		if factory() == nil {
			return &NotAParserError{Name: name}
		}
		return nil
	}(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[name] = factory
	return nil
}

// rebuilds the parser registry from the store's manifests and the compiled
// catalog
func (s *Store) Reload() error {
	found, err := s.FindParsers()
	if err != nil {
		return err
	}
	registry := make(map[string]parsers.Factory, len(found)+len(s.catalog))
	for name, factory := range s.catalog {
		registry[name] = factory
	}
	for name, factory := range found {
		registry[name] = factory
	}
	s.mu.Lock()
	s.registry = registry
	s.mu.Unlock()
	slog.Debug(fmt.Sprintf("Data store of %s has %d parsers", s.group, len(registry)))
	return nil
}

// returns a copy of the store's parser registry
func (s *Store) Parsers() map[string]parsers.Factory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	registry := make(map[string]parsers.Factory, len(s.registry))
	for name, factory := range s.registry {
		registry[name] = factory
	}
	return registry
}

// creates the parser registered under the given name
func (s *Store) Parser(name string) (parsers.Parser, error) {
	s.mu.RLock()
	factory, found := s.registry[name]
	s.mu.RUnlock()
	if !found {
		return nil, &parsers.NotFoundError{Name: name}
	}
	return factory(), nil
}
