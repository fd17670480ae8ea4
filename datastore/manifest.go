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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// a parser declared in a manifest: a compiled plugin under a group-specific
// name, with its own description and parameter defaults
type ManifestEntry struct {
	Plugin      string         `yaml:"plugin" json:"plugin"`
	Description string         `yaml:"description" json:"description"`
	Defaults    map[string]any `yaml:"defaults" json:"defaults"`
}

// the content of one parser manifest (YAML or JSON)
type Manifest struct {
	Parsers map[string]ManifestEntry `yaml:"parsers" json:"parsers"`
}

// reads a manifest file; JSON manifests are read as the YAML they are
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, &ManifestError{File: filepath.Base(path), Reason: err.Error()}
	}
	if err = yaml.Unmarshal(data, &m); err != nil {
		return m, &ManifestError{File: filepath.Base(path), Reason: err.Error()}
	}
	for name, entry := range m.Parsers {
		if entry.Plugin == "" {
			return m, &ManifestError{File: filepath.Base(path),
				Reason: fmt.Sprintf("parser %s names no plugin", name)}
		}
	}
	return m, nil
}

func isManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(name, ".")
	}
	return false
}

// reads every manifest in the store's parser directory in lexical order and
// returns the parsers they declare. A name declared by several manifests
// resolves to the last one. Entries naming a plugin that isn't compiled in
// are skipped.
func (s *Store) FindParsers() (map[string]parsers.Factory, error) {
	entries, err := os.ReadDir(s.ParserPath())
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && isManifest(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	found := make(map[string]parsers.Factory)
	for _, file := range files {
		m, err := ReadManifest(filepath.Join(s.ParserPath(), file))
		if err != nil {
			slog.Warn(fmt.Sprintf("Skipping parser manifest of %s: %s", s.group, err.Error()))
			continue
		}
		for name, entry := range m.Parsers {
			plugin, ok := s.catalog[entry.Plugin]
			if !ok {
				slog.Warn(fmt.Sprintf("Parser %s in %s/%s uses unknown plugin %s", name, s.group,
					file, entry.Plugin))
				continue
			}
			found[name] = manifestFactory(plugin, entry)
		}
	}
	return found, nil
}

func manifestFactory(plugin parsers.Factory, entry ManifestEntry) parsers.Factory {
	if entry.Description == "" && len(entry.Defaults) == 0 {
		return plugin
	}
	return func() parsers.Parser {
		return parsers.WithDefaults(plugin(), entry.Description, entry.Defaults)
	}
}
