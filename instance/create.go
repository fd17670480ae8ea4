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
	"sort"
	"strings"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// what a Create or Wipe did
type Report struct {
	// entities created or deleted
	Changed int
	// entities that already existed (Create) or were kept (Wipe)
	Unchanged int
	// the entities touched, as a tree
	Tree *Tree
}

// a description being created
type creator struct {
	session *openbis.Session
	report  Report
	// parents to link once every sample exists, by object identifier
	parents map[string][]string
	order   []string
}

func (c *creator) ensure(ctx context.Context, e openbis.Entity) (openbis.Entity, error) {
	entity, created, err := c.session.CreateOrFetch(ctx, e)
	if err != nil {
		return entity, fmt.Errorf("Couldn't create %s %s: %w", strings.ToLower(string(e.Kind)),
			e.ComputeIdentifier(), err)
	}
	if created {
		c.report.Changed++
		slog.Debug(fmt.Sprintf("Created %s %s", e.Kind, entity.Identifier))
	} else {
		c.report.Unchanged++
		slog.Debug(fmt.Sprintf("%s %s already exists", e.Kind, entity.Identifier))
	}
	return entity, nil
}

func (c *creator) attach(parent NodeID, e openbis.Entity) NodeID {
	return c.report.Tree.Add(parent, Node{
		Kind:        e.Kind,
		Code:        e.Code,
		Identifier:  e.Identifier,
		PermId:      e.PermId,
		Type:        e.Type,
		Registrator: e.Registrator,
		Properties:  e.Properties,
	})
}

func assignments(sections map[string][]string) []openbis.PropertyAssignment {
	names := make([]string, 0, len(sections))
	for section := range sections {
		names = append(names, section)
	}
	sort.Strings(names)
	a := make([]openbis.PropertyAssignment, 0)
	for _, section := range names {
		for _, code := range sections[section] {
			a = append(a, openbis.PropertyAssignment{PropertyType: strings.ToUpper(code), Section: section})
		}
	}
	return a
}

func (c *creator) types(ctx context.Context, d *Description) error {
	for _, p := range d.PropertyTypes {
		_, err := c.ensure(ctx, openbis.Entity{Kind: openbis.KindPropertyType,
			Code: strings.ToUpper(p.Code), Label: p.Label, Description: p.Description,
			DataType: strings.ToUpper(p.DataType), Vocabulary: p.Vocabulary})
		if err != nil {
			return err
		}
	}
	for _, t := range d.ObjectTypes {
		autoGenerate := t.AutoGenerateCodes == nil || *t.AutoGenerateCodes
		_, err := c.ensure(ctx, openbis.Entity{Kind: openbis.KindObjectType,
			Code: strings.ToUpper(t.Code), Description: t.Description, Prefix: t.Prefix,
			AutoGenerateCodes: autoGenerate, Assignments: assignments(t.Properties)})
		if err != nil {
			return err
		}
	}
	for _, t := range d.CollectionTypes {
		_, err := c.ensure(ctx, openbis.Entity{Kind: openbis.KindCollectionType,
			Code: strings.ToUpper(t.Code), Description: t.Description,
			Assignments: assignments(map[string][]string{"": t.Properties})})
		if err != nil {
			return err
		}
	}
	for _, t := range d.DatasetTypes {
		_, err := c.ensure(ctx, openbis.Entity{Kind: openbis.KindDatasetType,
			Code: strings.ToUpper(t.Code), Description: t.Description,
			Assignments: assignments(map[string][]string{"": t.Properties})})
		if err != nil {
			return err
		}
	}
	return nil
}

// creates a sample; parents of samples with codes are linked afterwards so
// that samples may name parents declared after them
func (c *creator) sample(ctx context.Context, parent NodeID, e openbis.Entity, s Sample) error {
	e.Code = strings.ToUpper(s.Code)
	e.Type = s.Type
	e.Properties = s.Properties
	if e.Code == "" {
		e.Parents = append([]string(nil), s.Parents...)
	}
	e.Identifier = e.ComputeIdentifier()
	created, err := c.ensure(ctx, e)
	if err != nil {
		return err
	}
	c.attach(parent, created)
	if e.Code != "" && len(s.Parents) > 0 {
		c.parents[created.Identifier] = s.Parents
		c.order = append(c.order, created.Identifier)
	}
	return nil
}

func (c *creator) hierarchy(ctx context.Context, d *Description) error {
	t := c.report.Tree
	for _, s := range d.Spaces {
		space, err := c.ensure(ctx, openbis.NewSpace(s.Code, s.Description))
		if err != nil {
			return err
		}
		spaceNode := c.attach(Root, space)
		for _, p := range s.Projects {
			project, err := c.ensure(ctx, openbis.NewProject(space.Code, p.Code, p.Description))
			if err != nil {
				return err
			}
			projectNode := c.attach(spaceNode, project)
			for _, col := range p.Collections {
				e := openbis.NewCollection(project.Identifier, col.Code, col.Type)
				e.Properties = col.Properties
				collection, err := c.ensure(ctx, e)
				if err != nil {
					return err
				}
				collectionNode := c.attach(projectNode, collection)
				for _, sample := range col.Samples {
					err = c.sample(ctx, collectionNode, openbis.NewObject(collection.Identifier, "", "", nil), sample)
					if err != nil {
						return err
					}
				}
			}
			for _, sample := range p.Samples {
				e := openbis.Entity{Kind: openbis.KindObject, Space: space.Code, Project: project.Identifier}
				if err = c.sample(ctx, projectNode, e, sample); err != nil {
					return err
				}
			}
		}
		for _, sample := range s.Samples {
			e := openbis.Entity{Kind: openbis.KindObject, Space: space.Code}
			if err = c.sample(ctx, spaceNode, e, sample); err != nil {
				return err
			}
		}
	}
	for _, id := range c.order {
		err := c.session.Update(ctx, openbis.Entity{Kind: openbis.KindObject, Identifier: id,
			Parents: append([]string(nil), c.parents[id]...)})
		if err != nil {
			return fmt.Errorf("Couldn't link the parents of %s: %w", id, err)
		}
	}
	t.PushPaths()
	return nil
}

func (c *creator) people(ctx context.Context, d *Description) error {
	for _, u := range d.Users {
		_, err := c.ensure(ctx, openbis.Entity{Kind: openbis.KindPerson, Code: u.UserId,
			Space: strings.ToUpper(u.Space)})
		if err != nil {
			return err
		}
	}
	for _, r := range d.Roles {
		_, err := c.ensure(ctx, openbis.Entity{Kind: openbis.KindRoleAssignment, User: r.User,
			Role: r.Role, Level: r.Level, Space: strings.ToUpper(r.Space), Project: r.Project})
		if err != nil {
			return err
		}
	}
	return nil
}

// creates everything the description declares that doesn't exist yet: types
// first, then the hierarchy top-down, then users and their roles. Entities
// that already exist are fetched instead, so creating a description twice
// changes nothing the second time.
func Create(ctx context.Context, session *openbis.Session, d *Description) (Report, error) {
	if err := d.Validate(); err != nil {
		return Report{}, err
	}
	c := &creator{
		session: session,
		report:  Report{Tree: NewTree()},
		parents: make(map[string][]string),
	}
	if err := c.types(ctx, d); err != nil {
		return c.report, err
	}
	if err := c.hierarchy(ctx, d); err != nil {
		return c.report, err
	}
	if err := c.people(ctx, d); err != nil {
		return c.report, err
	}
	slog.Info(fmt.Sprintf("Instance description applied: %d entities created, %d already present",
		c.report.Changed, c.report.Unchanged))
	return c.report, nil
}
