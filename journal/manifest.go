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

package journal

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"
)

// characters not allowed in Frictionless resource names
var invalidNameCharacters = regexp.MustCompile(`[^a-z0-9._-]+`)

func resourceName(file string) string {
	return invalidNameCharacters.ReplaceAllString(strings.ToLower(filepath.Base(file)), "_")
}

// describes a file as a Frictionless data resource with its size and MD5 hash;
// its path is relative to base
func describeFile(base, file string) (map[string]any, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	hash := md5.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return nil, err
	}
	path, err := filepath.Rel(base, file)
	if err != nil || strings.HasPrefix(path, "..") {
		path = filepath.Base(file)
	}
	extension := filepath.Ext(file)
	descriptor := map[string]any{
		"name":  resourceName(file),
		"path":  filepath.ToSlash(path),
		"bytes": size,
		"hash":  hex.EncodeToString(hash.Sum(nil)),
	}
	if extension != "" {
		descriptor["format"] = strings.TrimPrefix(strings.ToLower(extension), ".")
		if mediaType := mime.TypeByExtension(extension); mediaType != "" {
			descriptor["mediatype"] = mediaType
		}
	}
	return descriptor, nil
}

// creates the manifest of the files a job registered: a Frictionless data
// package with one resource per file, whose paths are relative to base
func NewManifest(base, owner string, files []string) (*datapackage.Package, error) {
	resources := make([]any, 0, len(files))
	for _, file := range files {
		descriptor, err := describeFile(base, file)
		if err != nil {
			return nil, fmt.Errorf("describing %s: %w", file, err)
		}
		resources = append(resources, descriptor)
	}
	descriptor := map[string]any{
		"name":      "manifest",
		"resources": resources,
		"created":   time.Now().UTC().Format(time.RFC3339),
		"profile":   "data-package",
		"keywords":  []any{"openbis", "upload", "manifest"},
	}
	if owner != "" {
		descriptor["contributors"] = []any{
			map[string]any{"title": owner, "role": "author"},
		}
	}
	return datapackage.New(descriptor, base, validator.InMemoryLoader())
}
