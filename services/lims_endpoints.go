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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/empa-scientific-it/openbis-uploader/credentials"
	"github.com/empa-scientific-it/openbis-uploader/instance"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

type TreeOutput struct {
	Body instance.TreeElement `doc:"The user-defined hierarchy of the LIMS"`
}

type EntityOutput struct {
	Body openbis.Entity `doc:"A LIMS entity"`
	// 201 if the entity was created, 200 if it existed already
	Status int
}

type ReportOutput struct {
	Body ReportResponse
}

// the query parameters naming a LIMS entity
type EntityQuery struct {
	Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
	Identifier    string `query:"identifier" required:"true" example:"/LAB/ICP/ENTRIES" doc:"The identifier of the entity"`
	Type          string `query:"type" required:"true" example:"COLLECTION" doc:"The kind of the entity (SPACE, PROJECT, COLLECTION, OBJECT, ...)"`
}

func (service *Service) addLimsEndpoints(api huma.API) {
	huma.Get(api, "/openbis/tree", service.getLimsTree)
	huma.Get(api, "/openbis/", service.getLimsEntity)
	huma.Put(api, "/openbis/", service.putLimsEntity)
	huma.Delete(api, "/openbis/", service.deleteLimsEntity)
}

// returns the bearer's own LIMS session, or the service account's session
// for the bearer of a directory token
func (service *Service) limsSession(ctx context.Context,
	authorizationHeader string) (*openbis.Session, error) {
	token, err := bearerToken(authorizationHeader)
	if err != nil {
		return nil, err
	}
	session, err := service.deps.Lims.Session(ctx, token)
	if err == nil {
		return session, nil
	}
	var unauthorized *credentials.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		return nil, httpError(err)
	}
	if _, err = service.authorize(ctx, authorizationHeader); err != nil {
		return nil, err
	}
	session, err = service.deps.Lims.ServiceSession(ctx)
	if err != nil {
		return nil, httpError(err)
	}
	return session, nil
}

func parseKind(name string) (openbis.Kind, error) {
	kind, err := openbis.ParseKind(name)
	if err != nil {
		return "", huma.Error422UnprocessableEntity(err.Error())
	}
	return kind, nil
}

// handler method returning the LIMS hierarchy
func (service *Service) getLimsTree(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
	}) (*TreeOutput, error) {

	session, err := service.limsSession(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	_, tree, err := instance.Reflect(ctx, session)
	if err != nil {
		return nil, httpError(err)
	}
	return &TreeOutput{Body: tree.Element(tree.Root())}, nil
}

// handler method returning one LIMS entity
func (service *Service) getLimsEntity(ctx context.Context,
	input *EntityQuery) (*EntityOutput, error) {

	kind, err := parseKind(input.Type)
	if err != nil {
		return nil, err
	}
	session, err := service.limsSession(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	entity, err := session.Get(ctx, kind, input.Identifier)
	if err != nil {
		return nil, httpError(err)
	}
	return &EntityOutput{Body: entity, Status: http.StatusOK}, nil
}

// builds the entity a PUT request describes from its identifier
func newEntity(kind openbis.Kind, identifier, entityType, collection string,
	properties map[string]any) (openbis.Entity, error) {
	space, project, code := openbis.SplitIdentifier(identifier)
	depth := len(strings.Split(strings.Trim(identifier, "/"), "/"))
	invalid := func(format string, args ...any) error {
		return &openbis.InvalidEntityError{Kind: kind, Code: identifier,
			Message: fmt.Sprintf(format, args...)}
	}
	switch kind {
	case openbis.KindSpace:
		if depth != 1 {
			return openbis.Entity{}, invalid("a space identifier has the form /SPACE")
		}
		return openbis.NewSpace(space, ""), nil
	case openbis.KindProject:
		if depth != 2 {
			return openbis.Entity{}, invalid("a project identifier has the form /SPACE/PROJECT")
		}
		return openbis.NewProject(space, code, ""), nil
	case openbis.KindCollection:
		if depth != 3 {
			return openbis.Entity{}, invalid("a collection identifier has the form /SPACE/PROJECT/COLLECTION")
		}
		if entityType == "" {
			entityType = "COLLECTION"
		}
		e := openbis.NewCollection("/"+space+"/"+project, code, entityType)
		e.Properties = properties
		return e, nil
	case openbis.KindObject:
		if collection == "" {
			return openbis.Entity{}, invalid("an object needs a collection")
		}
		if entityType == "" {
			return openbis.Entity{}, invalid("an object needs an object type")
		}
		return openbis.NewObject(collection, code, entityType, properties), nil
	}
	return openbis.Entity{}, invalid("%s entities can't be created here", kind)
}

// handler method creating a LIMS entity, or fetching it if it exists
func (service *Service) putLimsEntity(ctx context.Context,
	input *struct {
		Authorization string         `header:"authorization" doc:"Authorization header with a bearer token"`
		Identifier    string         `query:"identifier" required:"true" example:"/LAB/ICP/ENTRIES" doc:"The identifier of the entity"`
		Type          string         `query:"type" required:"true" example:"COLLECTION" doc:"The kind of the entity (SPACE, PROJECT, COLLECTION, OBJECT)"`
		EntityType    string         `query:"entity_type" example:"ICP_MS_MEASUREMENT" doc:"The type of a collection or object"`
		Collection    string         `query:"collection" example:"/LAB/ICP/ENTRIES" doc:"The collection of an object"`
		Body          map[string]any `required:"false" doc:"The properties of a collection or object"`
	}) (*EntityOutput, error) {

	kind, err := parseKind(input.Type)
	if err != nil {
		return nil, err
	}
	entity, err := newEntity(kind, input.Identifier, input.EntityType, input.Collection, input.Body)
	if err != nil {
		return nil, httpError(err)
	}
	session, err := service.limsSession(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	entity, created, err := session.CreateOrFetch(ctx, entity)
	if err != nil {
		return nil, httpError(err)
	}
	status := http.StatusOK
	if created {
		slog.Info(fmt.Sprintf("Created %s %s", kind, entity.Identifier))
		status = http.StatusCreated
	}
	return &EntityOutput{Body: entity, Status: status}, nil
}

// handler method wiping a LIMS entity and everything below it; sacred and
// system entities survive, and so do their ancestors
func (service *Service) deleteLimsEntity(ctx context.Context,
	input *EntityQuery) (*ReportOutput, error) {

	kind, err := parseKind(input.Type)
	if err != nil {
		return nil, err
	}
	session, err := service.limsSession(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	_, tree, err := instance.Reflect(ctx, session)
	if err != nil {
		return nil, httpError(err)
	}
	from, found := tree.Find(input.Identifier)
	if !found || from == tree.Root() || tree.Node(from).Kind != kind {
		return nil, httpError(&openbis.NotFoundError{Kind: kind, Identifier: input.Identifier})
	}
	report, err := instance.Wipe(ctx, session, tree, from)
	if err != nil {
		return nil, httpError(err)
	}
	return &ReportOutput{
		Body: ReportResponse{Changed: report.Changed, Unchanged: report.Unchanged},
	}, nil
}
