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

// Package instance configures LIMS instances declaratively: it creates the
// types, hierarchy, users and roles of a Description, reflects an existing
// instance into one, and wipes what a reflection found.
package instance

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

type PropertyType struct {
	Code        string `json:"code" yaml:"code"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description" yaml:"description"`
	DataType    string `json:"data_type" yaml:"data_type"`
	Vocabulary  string `json:"vocabulary,omitempty" yaml:"vocabulary,omitempty"`
}

type ObjectType struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Prefix      string `json:"prefix" yaml:"prefix"`
	// defaults to true
	AutoGenerateCodes *bool `json:"autogenerate_code,omitempty" yaml:"autogenerate_code,omitempty"`
	// property type codes by section
	Properties map[string][]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type CollectionType struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  []string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type DatasetType struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  []string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type Sample struct {
	Code       string         `json:"code,omitempty" yaml:"code,omitempty"`
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	// identifiers of parent objects
	Parents []string `json:"parents,omitempty" yaml:"parents,omitempty"`
}

type Collection struct {
	Code       string         `json:"code" yaml:"code"`
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Samples    []Sample       `json:"samples,omitempty" yaml:"samples,omitempty"`
}

type Project struct {
	Code        string       `json:"code" yaml:"code"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Collections []Collection `json:"collections,omitempty" yaml:"collections,omitempty"`
	// objects that belong to the project but to none of its collections
	Samples []Sample `json:"samples,omitempty" yaml:"samples,omitempty"`
}

type Space struct {
	Code        string    `json:"code" yaml:"code"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Projects    []Project `json:"projects,omitempty" yaml:"projects,omitempty"`
	// objects that belong to the space but to none of its projects
	Samples []Sample `json:"samples,omitempty" yaml:"samples,omitempty"`
}

type User struct {
	UserId string `json:"userid" yaml:"userid"`
	// home space code
	Space string `json:"space,omitempty" yaml:"space,omitempty"`
}

type RoleAssignment struct {
	User    string `json:"user" yaml:"user"`
	Role    string `json:"role" yaml:"role"`
	Level   string `json:"level" yaml:"level"`
	Space   string `json:"space,omitempty" yaml:"space,omitempty"`
	Project string `json:"project,omitempty" yaml:"project,omitempty"`
}

// A Description declares the content of a LIMS instance.
type Description struct {
	PropertyTypes   []PropertyType   `json:"properties,omitempty" yaml:"properties,omitempty"`
	ObjectTypes     []ObjectType     `json:"object_types,omitempty" yaml:"object_types,omitempty"`
	CollectionTypes []CollectionType `json:"collection_types,omitempty" yaml:"collection_types,omitempty"`
	DatasetTypes    []DatasetType    `json:"dataset_types,omitempty" yaml:"dataset_types,omitempty"`
	Spaces          []Space          `json:"spaces,omitempty" yaml:"spaces,omitempty"`
	Users           []User           `json:"users,omitempty" yaml:"users,omitempty"`
	Roles           []RoleAssignment `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// parses a description in YAML (or JSON, which YAML includes)
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, &InvalidDescriptionError{Reason: err.Error()}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// reads and parses the description in the given file
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return d, nil
}

// writes the description as indented JSON
func Export(w io.Writer, d *Description) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// roles that may be assigned at each level
var levelRoles = map[string][]string{
	"INSTANCE": {"ADMIN", "OBSERVER"},
	"SPACE":    {"ADMIN", "POWER_USER", "USER", "OBSERVER"},
	"PROJECT":  {"ADMIN", "POWER_USER", "USER", "OBSERVER"},
}

// checks the description for problems that would stop its creation halfway
func (d *Description) Validate() error {
	invalid := func(format string, args ...any) error {
		return &InvalidDescriptionError{Reason: fmt.Sprintf(format, args...)}
	}
	for _, p := range d.PropertyTypes {
		if p.Code == "" {
			return invalid("a property type has no code")
		}
		if !slices.Contains(openbis.DataTypes, strings.ToUpper(p.DataType)) {
			return invalid("property type %s has unknown data type %q", p.Code, p.DataType)
		}
	}
	for _, t := range d.ObjectTypes {
		if t.Code == "" {
			return invalid("an object type has no code")
		}
	}
	for _, s := range d.Spaces {
		if s.Code == "" {
			return invalid("a space has no code")
		}
		for _, p := range s.Projects {
			if p.Code == "" {
				return invalid("a project in space %s has no code", s.Code)
			}
			for _, c := range p.Collections {
				if c.Code == "" || c.Type == "" {
					return invalid("collection %q in project /%s/%s needs a code and a type",
						c.Code, s.Code, p.Code)
				}
			}
		}
	}
	for _, u := range d.Users {
		if u.UserId == "" {
			return invalid("a user has no userid")
		}
	}
	for _, r := range d.Roles {
		roles, found := levelRoles[r.Level]
		if !found {
			return invalid("role assignment of %s has unknown level %q", r.User, r.Level)
		}
		if !slices.Contains(roles, r.Role) {
			return &InvalidRoleError{User: r.User, Role: r.Role, Level: r.Level}
		}
		if r.Level == "SPACE" && r.Space == "" {
			return invalid("space role assignment of %s names no space", r.User)
		}
		if r.Level == "PROJECT" && r.Project == "" {
			return invalid("project role assignment of %s names no project", r.User)
		}
	}
	return nil
}

func sampleNode(s Sample) Node {
	return Node{Kind: openbis.KindObject, Code: strings.ToUpper(s.Code), Type: s.Type,
		Properties: s.Properties}
}

// builds the hierarchy of the description as a tree whose paths are set
func (d *Description) Tree() *Tree {
	t := NewTree()
	for _, s := range d.Spaces {
		space := t.Add(Root, Node{Kind: openbis.KindSpace, Code: strings.ToUpper(s.Code)})
		for _, p := range s.Projects {
			project := t.Add(space, Node{Kind: openbis.KindProject, Code: strings.ToUpper(p.Code)})
			for _, c := range p.Collections {
				collection := t.Add(project, Node{Kind: openbis.KindCollection,
					Code: strings.ToUpper(c.Code), Type: c.Type, Properties: c.Properties})
				for _, sample := range c.Samples {
					if sample.Code != "" {
						t.Add(collection, sampleNode(sample))
					}
				}
			}
			for _, sample := range p.Samples {
				if sample.Code != "" {
					t.Add(project, sampleNode(sample))
				}
			}
		}
		for _, sample := range s.Samples {
			if sample.Code != "" {
				t.Add(space, sampleNode(sample))
			}
		}
	}
	t.PushPaths()
	// objects are identified within their project (or space), not their
	// collection
	for id := range t.nodes {
		n := &t.nodes[id]
		if n.Kind == openbis.KindObject {
			container := n.Ancestors
			if len(container) > 2 {
				container = container[:2]
			}
			n.Identifier = "/" + strings.Join(append(append([]string(nil), container...), n.Code), "/")
		}
	}
	return t
}
