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
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// codes of the entities every LIMS instance starts with, registered by the
// system user
var (
	SeedSpaces          = []string{"ELN_SETTINGS", "METHODS", "MATERIALS", "STORAGE", "PUBLICATIONS"}
	SeedCollectionTypes = []string{"COLLECTION", "DEFAULT_EXPERIMENT", "UNKNOWN"}
	SeedDatasetTypes    = []string{"RAW_DATA", "ANALYZED_DATA", "ATTACHMENT", "UNKNOWN"}
	SeedObjectTypes     = []string{"ENTRY", "GENERAL_PROTOCOL", "STORAGE", "STORAGE_POSITION", "SUPPLIER", "PRODUCT"}
	SeedPersons         = []string{"system", "admin", "etlserver"}
	seedPropertyTypes   = map[string]string{"$NAME": "VARCHAR", "NOTES": "MULTILINE_VARCHAR"}
)

// roles and levels a role assignment may have
var (
	Roles  = []string{"ADMIN", "POWER_USER", "USER", "OBSERVER"}
	Levels = []string{"INSTANCE", "SPACE", "PROJECT"}
)

// the entities of a LIMS, by kind and identifier
type entityStore map[Kind]map[string]Entity

func (s entityStore) clone() entityStore {
	c := make(entityStore, len(s))
	for kind, entities := range s {
		c[kind] = make(map[string]Entity, len(entities))
		for id, e := range entities {
			c[kind][id] = e
		}
	}
	return c
}

func (s entityStore) put(e Entity) {
	if s[e.Kind] == nil {
		s[e.Kind] = make(map[string]Entity)
	}
	s[e.Kind][e.Identifier] = e
}

// finds an entity by identifier or permanent id
func (s entityStore) find(kind Kind, identifier string) (Entity, bool) {
	if e, found := s[kind][identifier]; found {
		return e, true
	}
	if e, found := s[kind][normalizeIdentifier(kind, identifier)]; found {
		return e, true
	}
	for _, e := range s[kind] {
		if e.PermId == identifier {
			return e, true
		}
	}
	return Entity{}, false
}

// returns true if any entity of the kind satisfies the predicate
func (s entityStore) any(kind Kind, predicate func(Entity) bool) bool {
	for _, e := range s[kind] {
		if predicate(e) {
			return true
		}
	}
	return false
}

func normalizeIdentifier(kind Kind, identifier string) string {
	switch kind {
	case KindPerson, KindRoleAssignment, KindDataset:
		return identifier
	}
	return strings.ToUpper(identifier)
}

// Memory is a Client that keeps a whole LIMS in process memory. It enforces
// the same hierarchy rules as the real thing (parents must exist, codes are
// unique, non-empty containers cannot be deleted) and executes batches
// atomically.
type Memory struct {
	mu       sync.Mutex
	users    map[string]string
	sessions map[string]string
	entities entityStore
	sequence int
	now      func() time.Time
}

// creates an in-memory LIMS holding only the system-registered seed entities
func NewMemory() *Memory {
	m := &Memory{
		users:    make(map[string]string),
		sessions: make(map[string]string),
		entities: make(entityStore),
		now:      time.Now,
	}
	seed := func(e Entity) {
		m.sequence++
		e.Registrator = SystemUser
		e.PermId = m.permId(m.sequence)
		e.Identifier = e.ComputeIdentifier()
		m.entities.put(e)
	}
	for code, dataType := range seedPropertyTypes {
		seed(Entity{Kind: KindPropertyType, Code: code, Label: code, DataType: dataType})
	}
	for _, code := range SeedObjectTypes {
		seed(Entity{Kind: KindObjectType, Code: code, Prefix: code[:3], AutoGenerateCodes: true})
	}
	for _, code := range SeedCollectionTypes {
		seed(Entity{Kind: KindCollectionType, Code: code})
	}
	for _, code := range SeedDatasetTypes {
		seed(Entity{Kind: KindDatasetType, Code: code})
	}
	for _, code := range SeedSpaces {
		seed(Entity{Kind: KindSpace, Code: code})
	}
	for _, code := range SeedPersons {
		seed(Entity{Kind: KindPerson, Code: code})
	}
	return m
}

// adds a user who may log in with the given password
func (m *Memory) AddUser(user, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user] = password
	if _, found := m.entities.find(KindPerson, user); !found {
		m.sequence++
		m.entities.put(Entity{Kind: KindPerson, Code: user, Identifier: user,
			PermId: m.permId(m.sequence), Registrator: SystemUser})
	}
}

// ends every open session
func (m *Memory) ExpireSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]string)
}

func (m *Memory) permId(sequence int) string {
	return fmt.Sprintf("%s-%d", m.now().UTC().Format("20060102150405000"), sequence)
}

func (m *Memory) sessionUser(session string) (string, error) {
	user, found := m.sessions[session]
	if !found {
		return "", &SessionError{Message: "session is not active"}
	}
	return user, nil
}

func (m *Memory) Login(ctx context.Context, user, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expected, found := m.users[user]; !found || expected != password || password == "" {
		return "", &AuthenticationError{User: user}
	}
	token := fmt.Sprintf("%s-%s", user, uuid.NewString())
	m.sessions[token] = user
	return token, nil
}

func (m *Memory) Logout(ctx context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session)
	return nil
}

func (m *Memory) IsSessionActive(ctx context.Context, session string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, found := m.sessions[session]
	return found, nil
}

func (m *Memory) SessionInformation(ctx context.Context, session string) (SessionInformation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, err := m.sessionUser(session)
	if err != nil {
		return SessionInformation{}, err
	}
	person, _ := m.entities.find(KindPerson, user)
	return SessionInformation{UserId: user, PermId: person.PermId}, nil
}

func (m *Memory) Get(ctx context.Context, session string, kind Kind, identifier string) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.sessionUser(session); err != nil {
		return Entity{}, err
	}
	e, found := m.entities.find(kind, identifier)
	if !found {
		return Entity{}, &NotFoundError{Kind: kind, Identifier: identifier}
	}
	return e.Clone(), nil
}

func (m *Memory) Search(ctx context.Context, session string, kind Kind, criteria Criteria) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.sessionUser(session); err != nil {
		return nil, err
	}
	codes := make([]string, len(criteria.Codes))
	for i, code := range criteria.Codes {
		codes[i] = strings.ToUpper(code)
	}
	results := make([]Entity, 0)
	for _, e := range m.entities[kind] {
		if criteria.Space != "" && !strings.EqualFold(e.Space, criteria.Space) {
			continue
		}
		if criteria.Project != "" && !strings.EqualFold(e.Project, criteria.Project) {
			continue
		}
		if criteria.Collection != "" && !strings.EqualFold(e.Collection, criteria.Collection) {
			continue
		}
		if criteria.Type != "" && !strings.EqualFold(e.Type, criteria.Type) {
			continue
		}
		if len(codes) > 0 && !slices.Contains(codes, strings.ToUpper(e.Code)) {
			continue
		}
		results = append(results, e.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Identifier < results[j].Identifier
	})
	return results, nil
}

func (m *Memory) Execute(ctx context.Context, session string, operations []Operation) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, err := m.sessionUser(session)
	if err != nil {
		return nil, err
	}

	// work on a copy so that a failing operation leaves nothing behind
	tx := &memoryTransaction{
		memory:   m,
		entities: m.entities.clone(),
		sequence: m.sequence,
		user:     user,
	}
	resolved := make(map[string]string)
	created := make([]Entity, 0)
	for i, op := range operations {
		if err := ctx.Err(); err != nil {
			return nil, &TransactionError{Operation: i, Err: err}
		}
		e := op.Entity.Clone()
		if err := resolveReferences(&e, resolved); err != nil {
			return nil, &TransactionError{Operation: i,
				Err: &InvalidEntityError{Kind: e.Kind, Code: e.Code, Message: err.Error()}}
		}
		switch op.Action {
		case ActionCreate:
			c, err := tx.create(e)
			if err != nil {
				return nil, &TransactionError{Operation: i, Err: err}
			}
			if op.Ref != "" {
				resolved[op.Ref] = c.Identifier
			}
			created = append(created, c.Clone())
		case ActionUpdate:
			if err := tx.update(e); err != nil {
				return nil, &TransactionError{Operation: i, Err: err}
			}
		case ActionDelete:
			if err := tx.delete(e.Kind, e.Identifier); err != nil {
				return nil, &TransactionError{Operation: i, Err: err}
			}
		default:
			return nil, &TransactionError{Operation: i, Err: fmt.Errorf("unknown action %s", op.Action)}
		}
	}
	m.entities = tx.entities
	m.sequence = tx.sequence
	slog.Debug(fmt.Sprintf("In-memory LIMS executed %d operations for %s", len(operations), user))
	return created, nil
}

// the state of a batch being executed by Memory
type memoryTransaction struct {
	memory   *Memory
	entities entityStore
	sequence int
	user     string
}

func (tx *memoryTransaction) invalid(e Entity, format string, args ...any) error {
	return &InvalidEntityError{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

func (tx *memoryTransaction) require(e Entity, kind Kind, identifier string) (Entity, error) {
	if identifier == "" {
		return Entity{}, tx.invalid(e, "no %s given", strings.ToLower(string(kind)))
	}
	found, ok := tx.entities.find(kind, identifier)
	if !ok {
		return Entity{}, &NotFoundError{Kind: kind, Identifier: identifier}
	}
	return found, nil
}

func (tx *memoryTransaction) create(e Entity) (Entity, error) {
	if e.Kind != KindPerson && e.Kind != KindRoleAssignment {
		e.Code = strings.ToUpper(e.Code)
	}
	switch e.Kind {
	case KindPropertyType:
		if !slices.Contains(DataTypes, e.DataType) {
			return Entity{}, tx.invalid(e, "unknown data type %q", e.DataType)
		}
	case KindObjectType, KindCollectionType, KindDatasetType:
		for _, a := range e.Assignments {
			if _, err := tx.require(e, KindPropertyType, a.PropertyType); err != nil {
				return Entity{}, err
			}
		}
	case KindSpace, KindPerson:
	case KindProject:
		e.Space = strings.ToUpper(e.Space)
		if _, err := tx.require(e, KindSpace, "/"+e.Space); err != nil {
			return Entity{}, err
		}
	case KindCollection:
		project, err := tx.require(e, KindProject, e.Project)
		if err != nil {
			return Entity{}, err
		}
		e.Project, e.Space = project.Identifier, project.Space
		if _, err := tx.require(e, KindCollectionType, e.Type); err != nil {
			return Entity{}, err
		}
	case KindObject:
		objectType, err := tx.require(e, KindObjectType, e.Type)
		if err != nil {
			return Entity{}, err
		}
		switch {
		case e.Collection != "":
			collection, err := tx.require(e, KindCollection, e.Collection)
			if err != nil {
				return Entity{}, err
			}
			e.Collection, e.Project, e.Space = collection.Identifier, collection.Project, collection.Space
		case e.Project != "":
			project, err := tx.require(e, KindProject, e.Project)
			if err != nil {
				return Entity{}, err
			}
			e.Project, e.Space = project.Identifier, project.Space
		case e.Space != "":
			e.Space = strings.ToUpper(e.Space)
			if _, err := tx.require(e, KindSpace, "/"+e.Space); err != nil {
				return Entity{}, err
			}
		}
		for i, parent := range e.Parents {
			p, err := tx.require(e, KindObject, parent)
			if err != nil {
				return Entity{}, err
			}
			e.Parents[i] = p.Identifier
		}
		if e.Code == "" {
			prefix := objectType.Prefix
			if prefix == "" {
				prefix = objectType.Code
			}
			e.Code = fmt.Sprintf("%s%d", prefix, tx.sequence+1)
		}
	case KindDataset:
		if _, err := tx.require(e, KindDatasetType, e.Type); err != nil {
			return Entity{}, err
		}
		switch {
		case e.Object != "":
			object, err := tx.require(e, KindObject, e.Object)
			if err != nil {
				return Entity{}, err
			}
			e.Object, e.Collection, e.Project, e.Space = object.Identifier, object.Collection,
				object.Project, object.Space
		case e.Collection != "":
			collection, err := tx.require(e, KindCollection, e.Collection)
			if err != nil {
				return Entity{}, err
			}
			e.Collection, e.Project, e.Space = collection.Identifier, collection.Project, collection.Space
		default:
			return Entity{}, tx.invalid(e, "a dataset needs an object or a collection")
		}
	case KindRoleAssignment:
		if _, err := tx.require(e, KindPerson, e.User); err != nil {
			return Entity{}, err
		}
		if !slices.Contains(Roles, e.Role) {
			return Entity{}, tx.invalid(e, "unknown role %q", e.Role)
		}
		switch e.Level {
		case "INSTANCE":
		case "SPACE":
			e.Space = strings.ToUpper(e.Space)
			if _, err := tx.require(e, KindSpace, "/"+e.Space); err != nil {
				return Entity{}, err
			}
		case "PROJECT":
			if _, err := tx.require(e, KindProject, e.Project); err != nil {
				return Entity{}, err
			}
		default:
			return Entity{}, tx.invalid(e, "unknown level %q", e.Level)
		}
	default:
		return Entity{}, tx.invalid(e, "unknown kind")
	}

	tx.sequence++
	e.PermId = tx.memory.permId(tx.sequence)
	if e.Kind == KindDataset {
		e.Code = e.PermId
	}
	if e.Code == "" && e.Kind != KindRoleAssignment {
		return Entity{}, tx.invalid(e, "no code given")
	}
	e.Identifier = e.ComputeIdentifier()
	if _, exists := tx.entities[e.Kind][e.Identifier]; exists {
		return Entity{}, &DuplicateError{Kind: e.Kind, Identifier: e.Identifier}
	}
	e.Registrator = tx.user
	tx.entities.put(e)
	return e, nil
}

func (tx *memoryTransaction) update(e Entity) error {
	identifier := e.Identifier
	if identifier == "" {
		identifier = e.ComputeIdentifier()
	}
	existing, err := tx.require(e, e.Kind, identifier)
	if err != nil {
		return err
	}
	if e.Description != "" {
		existing.Description = e.Description
	}
	if len(e.Properties) > 0 {
		existing = existing.Clone()
		if existing.Properties == nil {
			existing.Properties = make(map[string]any)
		}
		for k, v := range e.Properties {
			existing.Properties[k] = v
		}
	}
	if e.Parents != nil {
		for i, parent := range e.Parents {
			p, err := tx.require(e, KindObject, parent)
			if err != nil {
				return err
			}
			e.Parents[i] = p.Identifier
		}
		existing.Parents = e.Parents
	}
	tx.entities.put(existing)
	return nil
}

func (tx *memoryTransaction) delete(kind Kind, identifier string) error {
	e, found := tx.entities.find(kind, identifier)
	if !found {
		return &NotFoundError{Kind: kind, Identifier: identifier}
	}
	inUse := func(what string) error {
		return tx.invalid(e, "still holds %s", what)
	}
	switch kind {
	case KindSpace:
		if tx.entities.any(KindProject, func(p Entity) bool { return p.Space == e.Code }) {
			return inUse("projects")
		}
		if tx.entities.any(KindObject, func(o Entity) bool { return o.Space == e.Code }) {
			return inUse("objects")
		}
	case KindProject:
		if tx.entities.any(KindCollection, func(c Entity) bool { return c.Project == e.Identifier }) {
			return inUse("collections")
		}
		if tx.entities.any(KindObject, func(o Entity) bool { return o.Project == e.Identifier }) {
			return inUse("objects")
		}
	case KindCollection:
		if tx.entities.any(KindObject, func(o Entity) bool { return o.Collection == e.Identifier }) {
			return inUse("objects")
		}
		if tx.entities.any(KindDataset, func(d Entity) bool {
			return d.Collection == e.Identifier && d.Object == ""
		}) {
			return inUse("datasets")
		}
	case KindObject:
		// datasets go with their object; children lose the parent
		for id, d := range tx.entities[KindDataset] {
			if d.Object == e.Identifier {
				delete(tx.entities[KindDataset], id)
			}
		}
		for id, o := range tx.entities[KindObject] {
			if i := slices.Index(o.Parents, e.Identifier); i >= 0 {
				o = o.Clone()
				o.Parents = slices.Delete(o.Parents, i, i+1)
				tx.entities[KindObject][id] = o
			}
		}
	case KindPropertyType:
		for _, typeKind := range []Kind{KindObjectType, KindCollectionType, KindDatasetType} {
			if tx.entities.any(typeKind, func(t Entity) bool {
				return slices.ContainsFunc(t.Assignments, func(a PropertyAssignment) bool {
					return a.PropertyType == e.Code
				})
			}) {
				return inUse("assignments")
			}
		}
	case KindObjectType:
		if tx.entities.any(KindObject, func(o Entity) bool { return o.Type == e.Code }) {
			return inUse("objects")
		}
	case KindCollectionType:
		if tx.entities.any(KindCollection, func(c Entity) bool { return c.Type == e.Code }) {
			return inUse("collections")
		}
	case KindDatasetType:
		if tx.entities.any(KindDataset, func(d Entity) bool { return d.Type == e.Code }) {
			return inUse("datasets")
		}
	case KindPerson:
		for id, r := range tx.entities[KindRoleAssignment] {
			if r.User == e.Code {
				delete(tx.entities[KindRoleAssignment], id)
			}
		}
	}
	delete(tx.entities[kind], e.Identifier)
	return nil
}
