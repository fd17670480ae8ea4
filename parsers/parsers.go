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

// Package parsers defines the contract of dataset parsers: plugins that read
// an uploaded instrument file and stage the LIMS entities it describes in a
// transaction. Parsers declare their extra parameters explicitly, and a
// validation schema is generated from that declaration.
package parsers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// the type of a parser parameter
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
)

// an extra parameter accepted by a parser
type Parameter struct {
	Name        string
	Kind        Kind
	Required    bool
	Default     any
	Description string
}

// a required string parameter
func String(name, description string) Parameter {
	return Parameter{Name: name, Kind: KindString, Required: true, Description: description}
}

// a required integer parameter
func Integer(name, description string) Parameter {
	return Parameter{Name: name, Kind: KindInteger, Required: true, Description: description}
}

// a required floating point parameter
func Number(name, description string) Parameter {
	return Parameter{Name: name, Kind: KindNumber, Required: true, Description: description}
}

// a required boolean parameter
func Boolean(name, description string) Parameter {
	return Parameter{Name: name, Kind: KindBoolean, Required: true, Description: description}
}

// returns a copy of the parameter that is optional with the given default
func (p Parameter) Optional(defaultValue any) Parameter {
	p.Required = false
	p.Default = defaultValue
	return p
}

// the dataset a parser processes: local files staged (in the same
// transaction) as a LIMS dataset attached to an object or a collection
type Dataset struct {
	// absolute paths of the dataset's files
	Files []string
	// dataset type code
	Type string
	// identifier of the target object, if the dataset is attached to one
	Object string
	// identifier of the target collection, if the dataset is attached to one
	Collection string
	// pending reference of the dataset entity in the transaction
	Ref string
}

// A Parser turns a dataset into LIMS entities. Process adds everything it
// creates to tx and returns it; it never saves anything itself, so the
// caller can commit the result atomically or drop it.
type Parser interface {
	// a one-line description
	Description() string
	// the extra parameters Process accepts
	Parameters() []Parameter
	// stages the entities described by the dataset, reading the LIMS through
	// session where needed
	Process(ctx context.Context, session *openbis.Session, tx *openbis.Transaction,
		dataset Dataset, args Arguments) (*openbis.Transaction, error)
}

// creates a parser
type Factory func() Parser

var (
	mu      sync.RWMutex
	catalog = make(map[string]Factory)
)

// registers a parser under the given name, making it available to every
// data store
func Register(name string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()
	if _, found := catalog[name]; found {
		return &AlreadyRegisteredError{Name: name}
	}
	if factory == nil {
		return fmt.Errorf("Cannot register parser %s: no factory", name)
	}
	catalog[name] = factory
	slog.Debug(fmt.Sprintf("Registered parser %s", name))
	return nil
}

// returns a copy of the registered parser factories by name
func Catalog() map[string]Factory {
	mu.RLock()
	defer mu.RUnlock()
	c := make(map[string]Factory, len(catalog))
	for name, factory := range catalog {
		c[name] = factory
	}
	return c
}

// returns the sorted names of the parsers in a registry
func Names(registry map[string]Factory) []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//-----------
// Arguments
//-----------

// validated parser arguments
type Arguments map[string]any

// returns the named string argument
func (a Arguments) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// returns the named integer argument
func (a Arguments) Int(name string) int64 {
	i, _ := a[name].(int64)
	return i
}

// returns the named floating point argument
func (a Arguments) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

// returns the named boolean argument
func (a Arguments) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

//----------
// Defaults
//----------

// a parser whose description and parameter defaults are overridden, as
// declared by a parser manifest
type withDefaults struct {
	Parser
	description string
	defaults    map[string]any
}

// wraps a parser, replacing its description (if non-empty) and making the
// parameters named in defaults optional with the given values
func WithDefaults(p Parser, description string, defaults map[string]any) Parser {
	return &withDefaults{Parser: p, description: description, defaults: defaults}
}

func (w *withDefaults) Description() string {
	if w.description != "" {
		return w.description
	}
	return w.Parser.Description()
}

func (w *withDefaults) Parameters() []Parameter {
	params := w.Parser.Parameters()
	for i, p := range params {
		if value, found := w.defaults[p.Name]; found {
			params[i] = p.Optional(value)
		}
	}
	return params
}

//----------
// Progress
//----------

// receives progress messages from a running parser
type ProgressFunc func(message string)

type progressKey struct{}

// returns a context whose parsers report progress to f
func WithProgress(ctx context.Context, f ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, f)
}

// reports a progress message to whoever is following the job running the
// parser
func ReportProgress(ctx context.Context, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	slog.Debug(message)
	if f, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && f != nil {
		f(message)
	}
}
