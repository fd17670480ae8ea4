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
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// searches the entities of a kind that belong to the instance's users
func userEntities(ctx context.Context, session *openbis.Session, kind openbis.Kind) ([]openbis.Entity, error) {
	all, err := session.Search(ctx, kind, openbis.Criteria{})
	if err != nil {
		return nil, err
	}
	entities := make([]openbis.Entity, 0, len(all))
	for _, e := range all {
		if !IsSacred(e) {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

func sections(a []openbis.PropertyAssignment) map[string][]string {
	if len(a) == 0 {
		return nil
	}
	s := make(map[string][]string)
	for _, assignment := range a {
		s[assignment.Section] = append(s[assignment.Section], assignment.PropertyType)
	}
	return s
}

func codes(a []openbis.PropertyAssignment) []string {
	c := make([]string, 0, len(a))
	for _, assignment := range a {
		c = append(c, assignment.PropertyType)
	}
	if len(c) == 0 {
		return nil
	}
	return c
}

func (d *Description) reflectTypes(ctx context.Context, session *openbis.Session) error {
	propertyTypes, err := userEntities(ctx, session, openbis.KindPropertyType)
	if err != nil {
		return err
	}
	for _, p := range propertyTypes {
		d.PropertyTypes = append(d.PropertyTypes, PropertyType{Code: p.Code, Label: p.Label,
			Description: p.Description, DataType: p.DataType, Vocabulary: p.Vocabulary})
	}
	objectTypes, err := userEntities(ctx, session, openbis.KindObjectType)
	if err != nil {
		return err
	}
	for _, t := range objectTypes {
		autoGenerate := t.AutoGenerateCodes
		d.ObjectTypes = append(d.ObjectTypes, ObjectType{Code: t.Code, Description: t.Description,
			Prefix: t.Prefix, AutoGenerateCodes: &autoGenerate, Properties: sections(t.Assignments)})
	}
	collectionTypes, err := userEntities(ctx, session, openbis.KindCollectionType)
	if err != nil {
		return err
	}
	for _, t := range collectionTypes {
		d.CollectionTypes = append(d.CollectionTypes, CollectionType{Code: t.Code,
			Description: t.Description, Properties: codes(t.Assignments)})
	}
	datasetTypes, err := userEntities(ctx, session, openbis.KindDatasetType)
	if err != nil {
		return err
	}
	for _, t := range datasetTypes {
		d.DatasetTypes = append(d.DatasetTypes, DatasetType{Code: t.Code,
			Description: t.Description, Properties: codes(t.Assignments)})
	}
	return nil
}

func entityNode(e openbis.Entity) Node {
	return Node{
		Kind:        e.Kind,
		Code:        e.Code,
		Identifier:  e.Identifier,
		PermId:      e.PermId,
		Type:        e.Type,
		Registrator: e.Registrator,
		Properties:  e.Properties,
	}
}

func toSample(e openbis.Entity) Sample {
	return Sample{Code: e.Code, Type: e.Type, Properties: e.Properties, Parents: e.Parents}
}

// reflects the hierarchy: spaces, their projects and collections, and then
// every object, attached below the first of its collection, project and
// space found in the tree (or the root when none is)
func (d *Description) reflectHierarchy(ctx context.Context, session *openbis.Session, t *Tree) error {
	spaces, err := userEntities(ctx, session, openbis.KindSpace)
	if err != nil {
		return err
	}
	// description entries and tree nodes by identifier
	type place struct {
		node    NodeID
		samples *[]Sample
	}
	places := make(map[string]place)

	d.Spaces = make([]Space, len(spaces))
	for i, s := range spaces {
		d.Spaces[i] = Space{Code: s.Code, Description: s.Description}
		spaceNode := t.Add(Root, entityNode(s))
		places[s.Identifier] = place{spaceNode, &d.Spaces[i].Samples}

		projects, err := session.Search(ctx, openbis.KindProject, openbis.Criteria{Space: s.Code})
		if err != nil {
			return err
		}
		d.Spaces[i].Projects = make([]Project, len(projects))
		for j, p := range projects {
			project := &d.Spaces[i].Projects[j]
			*project = Project{Code: p.Code, Description: p.Description}
			projectNode := t.Add(spaceNode, entityNode(p))
			places[p.Identifier] = place{projectNode, &project.Samples}

			collections, err := session.Search(ctx, openbis.KindCollection,
				openbis.Criteria{Project: p.Identifier})
			if err != nil {
				return err
			}
			project.Collections = make([]Collection, len(collections))
			for k, c := range collections {
				collection := &project.Collections[k]
				*collection = Collection{Code: c.Code, Type: c.Type, Properties: c.Properties}
				places[c.Identifier] = place{t.Add(projectNode, entityNode(c)), &collection.Samples}
			}
		}
	}

	objects, err := session.Search(ctx, openbis.KindObject, openbis.Criteria{})
	if err != nil {
		return err
	}
	orphans := 0
	for _, o := range objects {
		if slices.Contains(SacredSpaces, strings.ToUpper(o.Space)) {
			continue
		}
		attached := false
		for _, container := range []string{o.Collection, o.Project, "/" + o.Space} {
			if p, found := places[container]; found && container != "/" {
				t.Add(p.node, entityNode(o))
				*p.samples = append(*p.samples, toSample(o))
				attached = true
				break
			}
		}
		if !attached {
			t.Add(Root, entityNode(o))
			orphans++
		}
	}
	if orphans > 0 {
		slog.Warn(fmt.Sprintf("%d objects belong to no reflected space and hang below the root", orphans))
	}
	t.PushPaths()
	return nil
}

func (d *Description) reflectPeople(ctx context.Context, session *openbis.Session) error {
	persons, err := userEntities(ctx, session, openbis.KindPerson)
	if err != nil {
		return err
	}
	for _, p := range persons {
		d.Users = append(d.Users, User{UserId: p.Code, Space: p.Space})
	}
	roles, err := userEntities(ctx, session, openbis.KindRoleAssignment)
	if err != nil {
		return err
	}
	for _, r := range roles {
		d.Roles = append(d.Roles, RoleAssignment{User: r.User, Role: r.Role, Level: r.Level,
			Space: r.Space, Project: r.Project})
	}
	return nil
}

// reflects the user-defined content of a LIMS instance into a description
// and a tree of its hierarchy. Sacred and system-registered entities are
// left out.
func Reflect(ctx context.Context, session *openbis.Session) (*Description, *Tree, error) {
	d := &Description{}
	t := NewTree()
	if err := d.reflectTypes(ctx, session); err != nil {
		return nil, nil, err
	}
	if err := d.reflectHierarchy(ctx, session, t); err != nil {
		return nil, nil, err
	}
	if err := d.reflectPeople(ctx, session); err != nil {
		return nil, nil, err
	}
	slog.Debug(fmt.Sprintf("Reflected %d spaces and %d tree nodes", len(d.Spaces), t.Len()-1))
	return d, t, nil
}
