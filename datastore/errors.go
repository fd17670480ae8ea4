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
)

// indicates that no file in a data store has the requested name
type FileNotFoundError struct {
	Group, Name string
}

func (e FileNotFoundError) Error() string {
	return fmt.Sprintf("Cannot find the file %s in the data store of %s", e.Name, e.Group)
}

// indicates that a file or group name would escape its data store
type InvalidNameError struct {
	Name string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("Invalid name: %q", e.Name)
}

// indicates that something registered as a parser does not implement the
// parser contract
type NotAParserError struct {
	Name string
}

func (e NotAParserError) Error() string {
	return fmt.Sprintf("Cannot register %s: it does not produce a dataset parser", e.Name)
}

// indicates that a parser manifest could not be read
type ManifestError struct {
	File   string
	Reason string
}

func (e ManifestError) Error() string {
	return fmt.Sprintf("Invalid parser manifest %s: %s", e.File, e.Reason)
}
