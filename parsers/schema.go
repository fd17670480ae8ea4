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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// the schema entry of one parameter
type ParameterSchema struct {
	Type        Kind   `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// describes the extra parameters a parser accepts
type Schema struct {
	Parser      string                     `json:"parser"`
	Description string                     `json:"description"`
	Parameters  map[string]ParameterSchema `json:"parameters"`
}

// generates the parameter schema of the parser registered under name
func GenerateParameterSchema(name string, p Parser) Schema {
	schema := Schema{
		Parser:      name,
		Description: p.Description(),
		Parameters:  make(map[string]ParameterSchema),
	}
	for _, param := range p.Parameters() {
		entry := ParameterSchema{
			Type:        param.Kind,
			Required:    param.Required,
			Description: param.Description,
		}
		if !param.Required {
			entry.Default = param.Default
		}
		schema.Parameters[param.Name] = entry
	}
	return schema
}

// checks the given values against the schema, returning arguments with
// defaults filled in and values converted to string, int64, float64 or bool
func (s Schema) Validate(values map[string]any) (Arguments, error) {
	invalid := func(name, format string, args ...any) error {
		return &ValidationError{Parser: s.Parser, Parameter: name, Reason: fmt.Sprintf(format, args...)}
	}
	args := make(Arguments)
	for name, value := range values {
		param, found := s.Parameters[name]
		if !found {
			return nil, invalid(name, "unknown parameter")
		}
		converted, err := convert(param.Type, value)
		if err != nil {
			return nil, invalid(name, "%s", err.Error())
		}
		args[name] = converted
	}
	for name, param := range s.Parameters {
		if _, found := args[name]; found {
			continue
		}
		if param.Required {
			return nil, invalid(name, "missing required parameter")
		}
		if param.Default != nil {
			converted, err := convert(param.Type, param.Default)
			if err != nil {
				return nil, invalid(name, "bad default: %s", err.Error())
			}
			args[name] = converted
		}
	}
	return args, nil
}

// converts a decoded JSON (or YAML) value to the Go type of the given kind
func convert(kind Kind, value any) (any, error) {
	mismatch := fmt.Errorf("expected %s, got %T", kind, value)
	switch kind {
	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, mismatch
	case KindBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, mismatch
	case KindInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int64(v), nil
		case json.Number:
			return v.Int64()
		}
		return nil, mismatch
	case KindNumber:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case json.Number:
			return strconv.ParseFloat(v.String(), 64)
		}
		return nil, mismatch
	}
	return nil, fmt.Errorf("unknown parameter type %s", kind)
}
