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
	"slices"
	"strings"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// entities the ELN runtime depends on; never reflected or wiped
var (
	SacredSpaces = []string{
		"ELN_SETTINGS", "STORAGE", "METHODS", "MATERIALS", "STOCK_CATALOG", "STOCK_ORDERS",
		"PUBLICATIONS",
	}
	SacredObjectTypes = []string{
		"GENERAL_ELN_SETTINGS", "ENTRY", "EXPERIMENTAL_STEP", "GENERAL_PROTOCOL", "PRODUCT",
		"SUPPLIER", "ORDER", "REQUEST", "STORAGE", "STORAGE_POSITION", "PUBLICATION",
	}
	SacredCollectionTypes = []string{"COLLECTION", "DEFAULT_EXPERIMENT", "UNKNOWN"}
	SacredUsers           = []string{openbis.SystemUser, "admin", "etlserver"}
)

// returns true if the entity belongs to the LIMS rather than its users
func IsSacred(e openbis.Entity) bool {
	if e.Registrator == openbis.SystemUser {
		return true
	}
	switch e.Kind {
	case openbis.KindSpace:
		return slices.Contains(SacredSpaces, strings.ToUpper(e.Code))
	case openbis.KindObjectType:
		return slices.Contains(SacredObjectTypes, strings.ToUpper(e.Code))
	case openbis.KindCollectionType:
		return slices.Contains(SacredCollectionTypes, strings.ToUpper(e.Code))
	case openbis.KindPerson:
		return slices.Contains(SacredUsers, e.Code)
	case openbis.KindRoleAssignment:
		return slices.Contains(SacredUsers, e.User)
	}
	return false
}

// returns true if the node, or the space it lives in, is sacred
func (t *Tree) isSacred(id NodeID) bool {
	n := t.nodes[id]
	e := openbis.Entity{Kind: n.Kind, Code: n.Code, Registrator: n.Registrator}
	if IsSacred(e) {
		return true
	}
	if len(n.Ancestors) > 0 {
		return slices.Contains(SacredSpaces, strings.ToUpper(n.Ancestors[0]))
	}
	return false
}
