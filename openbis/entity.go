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

// Package openbis defines how the uploader talks to the LIMS (openBIS): the
// entities it manipulates, a client contract with a JSON-RPC implementation
// and an in-process one, sessions, and a two-phase unit of work.
package openbis

import (
	"fmt"
	"strings"
)

// the kind of a LIMS entity
type Kind string

const (
	KindSpace          Kind = "SPACE"
	KindProject        Kind = "PROJECT"
	KindCollection     Kind = "COLLECTION"
	KindObject         Kind = "OBJECT"
	KindDataset        Kind = "DATASET"
	KindPropertyType   Kind = "PROPERTY_TYPE"
	KindObjectType     Kind = "OBJECT_TYPE"
	KindCollectionType Kind = "COLLECTION_TYPE"
	KindDatasetType    Kind = "DATASET_TYPE"
	KindPerson         Kind = "PERSON"
	KindRoleAssignment Kind = "ROLE_ASSIGNMENT"
)

// every kind, in the order in which creations must happen
var Kinds = []Kind{
	KindPropertyType, KindObjectType, KindCollectionType, KindDatasetType,
	KindSpace, KindProject, KindCollection, KindObject, KindDataset,
	KindPerson, KindRoleAssignment,
}

// converts a kind name (including the legacy EXPERIMENT and SAMPLE aliases)
// into a Kind
func ParseKind(name string) (Kind, error) {
	switch strings.ToUpper(name) {
	case "SPACE":
		return KindSpace, nil
	case "PROJECT":
		return KindProject, nil
	case "COLLECTION", "EXPERIMENT":
		return KindCollection, nil
	case "OBJECT", "SAMPLE":
		return KindObject, nil
	case "DATASET", "DATA_SET":
		return KindDataset, nil
	case "PROPERTY_TYPE":
		return KindPropertyType, nil
	case "OBJECT_TYPE", "SAMPLE_TYPE":
		return KindObjectType, nil
	case "COLLECTION_TYPE", "EXPERIMENT_TYPE":
		return KindCollectionType, nil
	case "DATASET_TYPE", "DATA_SET_TYPE":
		return KindDatasetType, nil
	case "PERSON", "USER":
		return KindPerson, nil
	case "ROLE_ASSIGNMENT":
		return KindRoleAssignment, nil
	}
	return "", fmt.Errorf("Unknown entity kind: %s", name)
}

// returns true for the kinds that describe other entities' types
func (k Kind) IsType() bool {
	switch k {
	case KindPropertyType, KindObjectType, KindCollectionType, KindDatasetType:
		return true
	}
	return false
}

// data types a property may have
var DataTypes = []string{
	"INTEGER", "VARCHAR", "MULTILINE_VARCHAR", "REAL", "TIMESTAMP", "DATE",
	"BOOLEAN", "HYPERLINK", "XML", "CONTROLLEDVOCABULARY", "MATERIAL", "SAMPLE",
}

// the assignment of a property type to an object, collection or dataset type
type PropertyAssignment struct {
	PropertyType string `json:"property_type" yaml:"property_type"`
	Section      string `json:"section,omitempty" yaml:"section,omitempty"`
	Mandatory    bool   `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

// A LIMS entity. Which fields are meaningful depends on Kind; references to
// other entities (Project, Collection, Object, Parents) hold identifiers or,
// inside a Transaction, pending references.
type Entity struct {
	Kind        Kind   `json:"kind"`
	Code        string `json:"code"`
	Identifier  string `json:"identifier,omitempty"`
	PermId      string `json:"permId,omitempty"`
	Type        string `json:"type,omitempty"`
	Registrator string `json:"registrator,omitempty"`
	Description string `json:"description,omitempty"`

	// location in the hierarchy: space code, project and collection identifiers
	Space      string `json:"space,omitempty"`
	Project    string `json:"project,omitempty"`
	Collection string `json:"collection,omitempty"`
	// owning object of a dataset
	Object string `json:"object,omitempty"`
	// parent objects of an object
	Parents []string `json:"parents,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`
	// local files attached to a dataset being created
	Files []string `json:"files,omitempty"`

	// type definitions
	Label             string               `json:"label,omitempty"`
	DataType          string               `json:"dataType,omitempty"`
	Vocabulary        string               `json:"vocabulary,omitempty"`
	Prefix            string               `json:"prefix,omitempty"`
	AutoGenerateCodes bool                 `json:"autoGenerateCodes,omitempty"`
	Assignments       []PropertyAssignment `json:"assignments,omitempty"`

	// role assignments
	User  string `json:"user,omitempty"`
	Role  string `json:"role,omitempty"`
	Level string `json:"level,omitempty"`
}

// creates a space entity
func NewSpace(code, description string) Entity {
	e := Entity{Kind: KindSpace, Code: strings.ToUpper(code), Description: description}
	e.Identifier = e.ComputeIdentifier()
	return e
}

// creates a project entity in the given space
func NewProject(space, code, description string) Entity {
	e := Entity{Kind: KindProject, Space: strings.ToUpper(space), Code: strings.ToUpper(code),
		Description: description}
	e.Identifier = e.ComputeIdentifier()
	return e
}

// creates a collection entity of the given type in the project with the
// given identifier
func NewCollection(project, code, collectionType string) Entity {
	space, _, _ := SplitIdentifier(project)
	e := Entity{Kind: KindCollection, Space: space, Project: project,
		Code: strings.ToUpper(code), Type: collectionType}
	e.Identifier = e.ComputeIdentifier()
	return e
}

// creates an object entity of the given type in the collection with the
// given identifier; an empty code asks the LIMS to generate one
func NewObject(collection, code, objectType string, properties map[string]any) Entity {
	space, project, _ := SplitIdentifier(collection)
	e := Entity{Kind: KindObject, Space: space, Collection: collection,
		Code: strings.ToUpper(code), Type: objectType, Properties: properties}
	if project != "" {
		e.Project = "/" + space + "/" + project
	}
	e.Identifier = e.ComputeIdentifier()
	return e
}

// computes the entity's identifier from its code and location
func (e Entity) ComputeIdentifier() string {
	switch e.Kind {
	case KindSpace:
		return "/" + e.Code
	case KindProject:
		return "/" + e.Space + "/" + e.Code
	case KindCollection:
		return e.Project + "/" + e.Code
	case KindObject:
		if e.Code == "" {
			return ""
		}
		switch {
		case e.Project != "" && !IsPending(e.Project):
			return e.Project + "/" + e.Code
		case e.Space != "":
			return "/" + e.Space + "/" + e.Code
		}
		return "/" + e.Code
	case KindDataset:
		return e.PermId
	case KindRoleAssignment:
		return RoleAssignmentIdentifier(e.User, e.Role, e.Level, e.Space, e.Project)
	}
	return e.Code
}

// identifies a role assignment
func RoleAssignmentIdentifier(user, role, level, space, project string) string {
	switch level {
	case "SPACE":
		return fmt.Sprintf("%s:%s:%s:%s", user, role, level, space)
	case "PROJECT":
		return fmt.Sprintf("%s:%s:%s:%s", user, role, level, project)
	}
	return fmt.Sprintf("%s:%s:%s", user, role, level)
}

// splits an identifier /SPACE[/PROJECT[/CODE]] into its codes
func SplitIdentifier(identifier string) (space, project, code string) {
	parts := strings.Split(strings.Trim(identifier, "/"), "/")
	switch len(parts) {
	case 1:
		space = parts[0]
	case 2:
		space, code = parts[0], parts[1]
	default:
		space, project, code = parts[0], parts[1], parts[len(parts)-1]
	}
	return
}

// returns a copy of the entity that shares no slices or maps with it
func (e Entity) Clone() Entity {
	c := e
	if e.Parents != nil {
		c.Parents = append([]string(nil), e.Parents...)
	}
	if e.Files != nil {
		c.Files = append([]string(nil), e.Files...)
	}
	if e.Assignments != nil {
		c.Assignments = append([]PropertyAssignment(nil), e.Assignments...)
	}
	if e.Properties != nil {
		c.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	return c
}

// restricts a search; empty fields match anything
type Criteria struct {
	// space code
	Space string
	// project identifier
	Project string
	// collection identifier
	Collection string
	// entity type code
	Type string
	// entity codes
	Codes []string
}

// information about the user a session belongs to
type SessionInformation struct {
	UserId    string `json:"userId"`
	HomeSpace string `json:"space,omitempty"`
	PermId    string `json:"permId,omitempty"`
}

// the registrator of entities that belong to the LIMS itself
const SystemUser = "system"
