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

package openbis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// prefix of the references handed out for entities staged in a Transaction
const PendingPrefix = "$PENDING-"

// returns true if ref refers to an entity that has not been committed yet
func IsPending(ref string) bool {
	return strings.HasPrefix(ref, PendingPrefix)
}

// A Transaction stages creations, updates and deletions and commits them in
// one atomic call. Staged creations are referred to by pending references,
// which may appear wherever an identifier of another entity is expected
// (parents, collection, project, owning object) in later operations.
type Transaction struct {
	operations []Operation
	pending    int
}

// creates an empty transaction
func NewTransaction() *Transaction {
	return &Transaction{}
}

// stages the creation of an entity and returns its pending reference
func (t *Transaction) Create(e Entity) string {
	t.pending++
	ref := fmt.Sprintf("%s%d", PendingPrefix, t.pending)
	t.operations = append(t.operations, Operation{Action: ActionCreate, Entity: e.Clone(), Ref: ref})
	return ref
}

// stages a property update
func (t *Transaction) Update(e Entity) {
	t.operations = append(t.operations, Operation{Action: ActionUpdate, Entity: e.Clone()})
}

// stages a deletion
func (t *Transaction) Delete(kind Kind, identifier, reason string) {
	t.operations = append(t.operations, Operation{Action: ActionDelete,
		Entity: Entity{Kind: kind, Identifier: identifier}, Reason: reason})
}

// the number of staged operations
func (t *Transaction) Len() int {
	return len(t.operations)
}

// a copy of the staged operations
func (t *Transaction) Operations() []Operation {
	operations := make([]Operation, len(t.operations))
	for i, op := range t.operations {
		operations[i] = op
		operations[i].Entity = op.Entity.Clone()
	}
	return operations
}

// returns the staged entity with the given pending reference
func (t *Transaction) Staged(ref string) (Entity, bool) {
	for _, op := range t.operations {
		if op.Ref == ref {
			return op.Entity.Clone(), true
		}
	}
	return Entity{}, false
}

// returns the staged creations of the given kind
func (t *Transaction) Creations(kind Kind) []Entity {
	var entities []Entity
	for _, op := range t.operations {
		if op.Action == ActionCreate && op.Entity.Kind == kind {
			entities = append(entities, op.Entity.Clone())
		}
	}
	return entities
}

// commits the staged operations through the session; either all of them
// take effect or none does
func (t *Transaction) Commit(ctx context.Context, session *Session) ([]Entity, error) {
	if len(t.operations) == 0 {
		return nil, nil
	}
	slog.Debug(fmt.Sprintf("Committing %d LIMS operations", len(t.operations)))
	return session.Execute(ctx, t.Operations())
}

// substitutes resolved identifiers for the pending references of an
// entity's references to other entities; unknown references are kept
func substituteReferences(e *Entity, resolved map[string]string) {
	substitute := func(ref string) string {
		if id, found := resolved[ref]; found {
			return id
		}
		return ref
	}
	e.Project = substitute(e.Project)
	e.Collection = substitute(e.Collection)
	e.Object = substitute(e.Object)
	for i, parent := range e.Parents {
		e.Parents[i] = substitute(parent)
	}
}

// like substituteReferences, but fails on references it cannot resolve
func resolveReferences(e *Entity, resolved map[string]string) error {
	substituteReferences(e, resolved)
	for _, ref := range append([]string{e.Project, e.Collection, e.Object}, e.Parents...) {
		if IsPending(ref) {
			return fmt.Errorf("unresolved reference %s", ref)
		}
	}
	return nil
}
