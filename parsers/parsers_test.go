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

package parsers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// a parser with parameters (a int, b string, c string = "gala")
type testParser struct{}

func (p testParser) Description() string {
	return "test parser"
}

func (p testParser) Parameters() []Parameter {
	return []Parameter{
		Integer("a", "an integer"),
		String("b", "a string"),
		String("c", "another string").Optional("gala"),
	}
}

func (p testParser) Process(ctx context.Context, session *openbis.Session, tx *openbis.Transaction,
	dataset Dataset, args Arguments) (*openbis.Transaction, error) {
	ReportProgress(ctx, "processing %d files", len(dataset.Files))
	tx.Create(openbis.NewSpace(args.String("c"), ""))
	return tx, nil
}

func TestGenerateParameterSchema(t *testing.T) {
	assert := assert.New(t)
	schema := GenerateParameterSchema("test", testParser{})
	assert.Equal("test", schema.Parser)
	assert.Equal("test parser", schema.Description)
	assert.Len(schema.Parameters, 3)
	assert.Equal(ParameterSchema{Type: KindInteger, Required: true, Description: "an integer"},
		schema.Parameters["a"])
	assert.True(schema.Parameters["b"].Required)
	assert.False(schema.Parameters["c"].Required)
	assert.Equal("gala", schema.Parameters["c"].Default)
	// nothing but the declared extra parameters shows up
	for _, name := range []string{"session", "tx", "dataset", "ctx"} {
		assert.NotContains(schema.Parameters, name)
	}
}

func TestSchemaValidate(t *testing.T) {
	assert := assert.New(t)
	schema := GenerateParameterSchema("test", testParser{})

	// JSON numbers arrive as float64
	args, err := schema.Validate(map[string]any{"a": float64(3), "b": "x"})
	assert.Nil(err)
	assert.Equal(Arguments{"a": int64(3), "b": "x", "c": "gala"}, args)
	assert.Equal(int64(3), args.Int("a"))

	var invalid *ValidationError
	_, err = schema.Validate(map[string]any{"b": "x"})
	assert.True(errors.As(err, &invalid))
	assert.Equal("a", invalid.Parameter)
	_, err = schema.Validate(map[string]any{"a": 1.5, "b": "x"})
	assert.True(errors.As(err, &invalid))
	_, err = schema.Validate(map[string]any{"a": 1, "b": 2})
	assert.True(errors.As(err, &invalid))
	_, err = schema.Validate(map[string]any{"a": 1, "b": "x", "d": true})
	assert.True(errors.As(err, &invalid))
	assert.Equal("d", invalid.Parameter)
}

func TestWithDefaults(t *testing.T) {
	assert := assert.New(t)
	p := WithDefaults(testParser{}, "renamed", map[string]any{"a": 7})
	assert.Equal("renamed", p.Description())
	schema := GenerateParameterSchema("alias", p)
	assert.False(schema.Parameters["a"].Required)
	args, err := schema.Validate(map[string]any{"b": "x"})
	assert.Nil(err)
	assert.Equal(int64(7), args.Int("a"))

	// the wrapped parser is untouched
	assert.True(GenerateParameterSchema("test", testParser{}).Parameters["a"].Required)
	assert.Equal("test parser", WithDefaults(testParser{}, "", nil).Description())
}

func TestRegister(t *testing.T) {
	assert := assert.New(t)
	factory := func() Parser { return testParser{} }
	assert.Nil(Register("registry_test", factory))
	var already *AlreadyRegisteredError
	assert.True(errors.As(Register("registry_test", factory), &already))
	assert.NotNil(Register("registry_nil", nil))

	catalog := Catalog()
	assert.Contains(catalog, "registry_test")
	delete(catalog, "registry_test")
	assert.Contains(Catalog(), "registry_test")
	assert.Contains(Names(Catalog()), "registry_test")
}

func TestReportProgress(t *testing.T) {
	assert := assert.New(t)
	var messages []string
	ctx := WithProgress(context.Background(), func(message string) {
		messages = append(messages, message)
	})
	tx := openbis.NewTransaction()
	tx, err := testParser{}.Process(ctx, nil, tx, Dataset{Files: []string{"a", "b"}},
		Arguments{"c": "gala"})
	assert.Nil(err)
	assert.Equal([]string{"processing 2 files"}, messages)
	assert.Equal(1, tx.Len())

	// without a sink, reporting is harmless
	ReportProgress(context.Background(), "nobody listens")
}
