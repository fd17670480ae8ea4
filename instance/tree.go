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

package instance

import (
	"encoding/json"
	"strings"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// identifies a node in a Tree
type NodeID int

// the root of every tree
const Root NodeID = 0

// a node of the LIMS hierarchy
type Node struct {
	// entity kind; empty for the root
	Kind openbis.Kind
	// local name
	Code string
	// LIMS identifier; filled in by PushPaths when not known
	Identifier string
	PermId     string
	// entity type code
	Type        string
	Registrator string
	Properties  map[string]any
	// codes of the node's ancestors below the root, set by PushPaths
	Ancestors []string

	parent   NodeID
	children []NodeID
}

// A Tree is an arena of LIMS hierarchy nodes (instance → spaces → projects →
// collections → objects) addressed by NodeID.
type Tree struct {
	nodes []Node
}

// creates a tree holding only the instance root
func NewTree() *Tree {
	return &Tree{
		nodes: []Node{{Code: "/", Identifier: "/", parent: -1}},
	}
}

// the root node
func (t *Tree) Root() NodeID {
	return Root
}

// the number of nodes, root included
func (t *Tree) Len() int {
	return len(t.nodes)
}

// returns a copy of the node with the given id
func (t *Tree) Node(id NodeID) Node {
	n := t.nodes[id]
	n.children = append([]NodeID(nil), n.children...)
	return n
}

// the children of a node, in insertion order
func (t *Tree) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), t.nodes[id].children...)
}

// the parent of a node; false for the root
func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	p := t.nodes[id].parent
	return p, p >= 0
}

// attaches a node below parent and returns its id. If parent already has a
// child with the same code, that child is returned instead.
func (t *Tree) Add(parent NodeID, n Node) NodeID {
	if existing, found := t.Child(parent, n.Code); found {
		return existing
	}
	n.parent = parent
	n.children = nil
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id
}

// finds the child of parent with the given code
func (t *Tree) Child(parent NodeID, code string) (NodeID, bool) {
	for _, c := range t.nodes[parent].children {
		if strings.EqualFold(t.nodes[c].Code, code) {
			return c, true
		}
	}
	return 0, false
}

// finds the first node, depth first from the root, whose code, identifier or
// path equals key
func (t *Tree) Find(key string) (NodeID, bool) {
	var visit func(id NodeID) (NodeID, bool)
	visit = func(id NodeID) (NodeID, bool) {
		n := t.nodes[id]
		if n.Code == key || n.Identifier == key || t.Path(id) == key {
			return id, true
		}
		for _, c := range n.children {
			if found, ok := visit(c); ok {
				return found, true
			}
		}
		return 0, false
	}
	return visit(Root)
}

// propagates ancestor codes from the root down to every node, so that each
// node knows its path, and fills in missing identifiers
func (t *Tree) PushPaths() {
	var push func(id NodeID, ancestors []string)
	push = func(id NodeID, ancestors []string) {
		n := &t.nodes[id]
		n.Ancestors = ancestors
		if n.Identifier == "" {
			n.Identifier = t.Path(id)
		}
		below := ancestors
		if id != Root {
			below = append(append([]string(nil), ancestors...), n.Code)
		}
		for _, c := range n.children {
			push(c, below)
		}
	}
	push(Root, nil)
}

// the path of a node: its ancestors' codes and its own, joined by slashes
func (t *Tree) Path(id NodeID) string {
	if id == Root {
		return "/"
	}
	codes := make([]string, 0, 4)
	for n := id; n != Root; n = t.nodes[n].parent {
		codes = append(codes, t.nodes[n].Code)
	}
	var b strings.Builder
	for i := len(codes) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(codes[i])
	}
	return b.String()
}

// the LIMS identifier of a node
func (t *Tree) Identifier(id NodeID) string {
	if t.nodes[id].Identifier != "" {
		return t.nodes[id].Identifier
	}
	return t.Path(id)
}

// the nodes of the subtree below (and including) id, children before their
// parent
func (t *Tree) PostOrder(id NodeID) []NodeID {
	order := make([]NodeID, 0)
	var visit func(id NodeID)
	visit = func(id NodeID) {
		for _, c := range t.nodes[id].children {
			visit(c)
		}
		order = append(order, id)
	}
	visit(id)
	return order
}

// the JSON view of a node and its subtree
type TreeElement struct {
	Id          string         `json:"id"`
	Code        string         `json:"code"`
	PermId      string         `json:"permid,omitempty"`
	Kind        openbis.Kind   `json:"type"`
	Type        string         `json:"openbis_type,omitempty"`
	Registrator string         `json:"registrator,omitempty"`
	Properties  map[string]any `json:"attributes,omitempty"`
	Children    []TreeElement  `json:"children"`
}

// returns the nested view of the subtree below id
func (t *Tree) Element(id NodeID) TreeElement {
	n := t.nodes[id]
	kind := n.Kind
	if id == Root {
		kind = "INSTANCE"
	}
	e := TreeElement{
		Id:          t.Identifier(id),
		Code:        n.Code,
		PermId:      n.PermId,
		Kind:        kind,
		Type:        n.Type,
		Registrator: n.Registrator,
		Properties:  n.Properties,
		Children:    make([]TreeElement, 0, len(n.children)),
	}
	for _, c := range n.children {
		e.Children = append(e.Children, t.Element(c))
	}
	return e
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Element(Root))
}
