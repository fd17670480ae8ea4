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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
	"github.com/empa-scientific-it/openbis-uploader/uploadertest"
)

var testRoot string

// a compiled plugin with one required and one optional parameter
type stubParser struct{}

func (p stubParser) Description() string { return "stub" }

func (p stubParser) Parameters() []parsers.Parameter {
	return []parsers.Parameter{
		parsers.String("instrument", "instrument name"),
		parsers.Integer("skip", "rows to skip").Optional(0),
	}
}

func (p stubParser) Process(ctx context.Context, session *openbis.Session, tx *openbis.Transaction,
	dataset parsers.Dataset, args parsers.Arguments) (*openbis.Transaction, error) {
	return tx, nil
}

var testCatalog = map[string]parsers.Factory{
	"stub":  func() parsers.Parser { return stubParser{} },
	"other": func() parsers.Parser { return stubParser{} },
}

const labManifest = `
parsers:
  xrd:
    plugin: stub
    description: X-ray diffraction
    defaults:
      instrument: Bruker D8
  other:
    plugin: stub
  broken:
    plugin: not_compiled
`

// opens the store of a fresh group
func newStore(t *testing.T, group string) *Store {
	s, err := New(testRoot, group, testCatalog)
	if err != nil {
		t.Fatalf("Couldn't open store: %s", err)
	}
	return s
}

func writeFile(t *testing.T, path, content string) {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Couldn't write %s: %s", path, err)
	}
}

func TestNewCreatesDirectories(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, "fresh")
	assert.Equal("fresh", s.Group())
	info, err := os.Stat(s.ParserPath())
	assert.Nil(err)
	assert.True(info.IsDir())
	assert.Equal(filepath.Join(s.Path(), ParsersDirectory), s.ParserPath())
	// reopening an existing store is fine
	_, err = New(testRoot, "fresh", testCatalog)
	assert.Nil(err)

	var invalid *InvalidNameError
	for _, group := range []string{"", "..", "a/b"} {
		_, err = New(testRoot, group, testCatalog)
		assert.True(errors.As(err, &invalid), group)
	}
}

func TestListAndGetFiles(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, "files")
	writeFile(t, filepath.Join(s.Path(), "batch.zip"), "zip")
	writeFile(t, filepath.Join(s.Path(), "notes.txt"), "some notes")
	os.Mkdir(filepath.Join(s.Path(), "subdir.zip"), 0755)
	writeFile(t, filepath.Join(s.Path(), "subdir.zip", "nested.zip"), "nested")

	files, err := s.ListFiles("*")
	assert.Nil(err)
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	// directories and parser manifests are not data files
	assert.Equal([]string{"batch.zip", "notes.txt"}, names)
	assert.Equal(int64(10), files[1].Size)
	assert.Equal(filepath.Join(s.Path(), "notes.txt"), files[1].Path)
	assert.False(files[1].Created.IsZero())

	files, err = s.ListFiles("*.zip")
	assert.Nil(err)
	assert.Len(files, 1)
	files, err = s.ListFiles("*.csv")
	assert.Nil(err)
	assert.Empty(files)
	_, err = s.ListFiles("../*")
	assert.NotNil(err)

	paths, err := s.GetFile("batch.zip")
	assert.Nil(err)
	assert.Equal([]string{filepath.Join(s.Path(), "batch.zip")}, paths)
	var notFound *FileNotFoundError
	_, err = s.GetFile("batch")
	assert.True(errors.As(err, &notFound))
	_, err = s.GetFile("subdir.zip")
	assert.True(errors.As(err, &notFound))
}

func TestRecentFiles(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, "recent")
	writeFile(t, filepath.Join(s.Path(), "old.txt"), "old")
	writeFile(t, filepath.Join(s.Path(), "new.txt"), "new")
	past := time.Now().Add(-2 * time.Hour)
	os.Chtimes(filepath.Join(s.Path(), "old.txt"), past, past)

	files, err := s.RecentFiles("*", time.Hour)
	assert.Nil(err)
	assert.Len(files, 1)
	assert.Equal("new.txt", files[0].Name)
}

func TestSaveAndDeleteFile(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, "upload")
	info, err := s.SaveFile("batch.zip", strings.NewReader("first"))
	assert.Nil(err)
	assert.Equal(int64(5), info.Size)
	info, err = s.SaveFile("batch.zip", strings.NewReader("second"))
	assert.Nil(err)
	assert.Equal(int64(6), info.Size)
	data, _ := os.ReadFile(filepath.Join(s.Path(), "batch.zip"))
	assert.Equal("second", string(data))
	// no temporary files are left behind
	files, _ := s.ListFiles("*")
	assert.Len(files, 1)

	// an upload still being written is invisible
	writeFile(t, filepath.Join(s.Path(), ".batch.zip.1234"), "half")
	files, err = s.ListFiles("*")
	assert.Nil(err)
	assert.Len(files, 1)
	files, err = s.ListFiles("*.zip*")
	assert.Nil(err)
	assert.Len(files, 1)
	var notFound *FileNotFoundError
	_, err = s.GetFile(".batch.zip.1234")
	assert.True(errors.As(err, &notFound))

	var invalid *InvalidNameError
	_, err = s.SaveFile("../escape.zip", strings.NewReader("x"))
	assert.True(errors.As(err, &invalid))
	_, err = s.SaveFile(".hidden", strings.NewReader("x"))
	assert.True(errors.As(err, &invalid))

	assert.Nil(s.DeleteFile("batch.zip"))
	assert.True(errors.As(s.DeleteFile("batch.zip"), &notFound))
	assert.True(errors.As(s.DeleteFile("a/b"), &invalid))
}

func TestRegisterParser(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, "register")
	var notAParser *NotAParserError
	assert.True(errors.As(s.RegisterParser("nil", nil), &notAParser))
	assert.True(errors.As(s.RegisterParser("nothing", func() parsers.Parser { return nil }), &notAParser))
	assert.True(errors.As(s.RegisterParser("panics", func() parsers.Parser { panic("no") }), &notAParser))

	assert.Nil(s.RegisterParser("custom", func() parsers.Parser { return stubParser{} }))
	p, err := s.Parser("custom")
	assert.Nil(err)
	assert.Equal("stub", p.Description())

	var notFound *parsers.NotFoundError
	_, err = s.Parser("missing")
	assert.True(errors.As(err, &notFound))
}

func TestFindParsers(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, "lab")
	// without manifests the compiled parsers are all there is
	assert.ElementsMatch([]string{"stub", "other"}, parsers.Names(s.Parsers()))

	writeFile(t, filepath.Join(s.ParserPath(), "10-lab.yaml"), labManifest)
	writeFile(t, filepath.Join(s.ParserPath(), "20-override.json"),
		`{"parsers": {"xrd": {"plugin": "stub", "description": "XRD, second edition"}}}`)
	writeFile(t, filepath.Join(s.ParserPath(), "30-garbage.yml"), "parsers: [1, 2")
	writeFile(t, filepath.Join(s.ParserPath(), "README.md"), "not a manifest")

	found, err := s.FindParsers()
	assert.Nil(err)
	assert.ElementsMatch([]string{"xrd", "other"}, parsers.Names(found))
	// later manifests win
	assert.Equal("XRD, second edition", found["xrd"]().Description())

	assert.Nil(s.Reload())
	assert.ElementsMatch([]string{"stub", "other", "xrd"}, parsers.Names(s.Parsers()))
}

func TestManifestDefaults(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, "defaults")
	writeFile(t, filepath.Join(s.ParserPath(), "lab.yaml"), labManifest)
	assert.Nil(s.Reload())

	p, err := s.Parser("xrd")
	assert.Nil(err)
	schema := parsers.GenerateParameterSchema("xrd", p)
	assert.Equal("X-ray diffraction", schema.Description)
	assert.False(schema.Parameters["instrument"].Required)
	assert.Equal("Bruker D8", schema.Parameters["instrument"].Default)

	// the compiled plugin keeps its own schema
	p, _ = s.Parser("stub")
	assert.True(parsers.GenerateParameterSchema("stub", p).Parameters["instrument"].Required)

	_, err = ReadManifest(filepath.Join(s.ParserPath(), "missing.yaml"))
	assert.NotNil(err)
	writeFile(t, filepath.Join(s.ParserPath(), "noplugin.yaml"), "parsers:\n  x:\n    description: y\n")
	var invalid *ManifestError
	_, err = ReadManifest(filepath.Join(s.ParserPath(), "noplugin.yaml"))
	assert.True(errors.As(err, &invalid))
}

func TestWatcherReloads(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStore(t, "watched")
	w, err := NewWatcher(ctx)
	assert.Nil(err)
	reloaded := make(chan string, 16)
	w.mu.Lock()
	w.onReload = func(s *Store) { reloaded <- s.Group() }
	w.mu.Unlock()
	assert.Nil(w.Watch(s))
	assert.Nil(w.Watch(s))
	found, ok := w.Store("watched")
	assert.True(ok)
	assert.Equal(s, found)
	_, ok = w.Store("nobody")
	assert.False(ok)

	writeFile(t, filepath.Join(s.ParserPath(), "lab.yaml"), labManifest)
	select {
	case group := <-reloaded:
		assert.Equal("watched", group)
	case <-time.After(5 * time.Second):
		t.Fatal("The registry was not reloaded")
	}
	assert.Eventually(func() bool {
		_, err := s.Parser("xrd")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStoresOpensOnce(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := NewWatcher(ctx)
	assert.Nil(err)
	stores := NewStores(testRoot, testCatalog, w)

	s, err := stores.Open("cached")
	assert.Nil(err)
	again, err := stores.Open("cached")
	assert.Nil(err)
	assert.Same(s, again)
	watched, ok := w.Store("cached")
	assert.True(ok)
	assert.Same(s, watched)

	_, err = stores.Open("../escape")
	var invalid *InvalidNameError
	assert.True(errors.As(err, &invalid))
}

// this runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	var err error
	uploadertest.EnableDebugLogging()
	testRoot, err = os.MkdirTemp(os.TempDir(), "uploader-datastore")
	if err != nil {
		panic(err)
	}
	status := m.Run()
	os.RemoveAll(testRoot)
	os.Exit(status)
}
