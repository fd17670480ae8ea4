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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/empa-scientific-it/openbis-uploader/config"
)

const (
	applicationServerPath = "/openbis/openbis/rmi-application-server-v3.json"
	dataStoreServerPath   = "/datastore_server/rmi-data-store-server-v3.json"
	workspaceUploadPath   = "/datastore_server/session_workspace_file_upload"
)

// names of the DTO classes of the openBIS v3 API for one kind of entity
type dto struct {
	pkg, name, plural string
}

func (d dto) class(sub, format string) string {
	return fmt.Sprintf("as.dto.%s.%s.%s", d.pkg, sub, fmt.Sprintf(format, d.name))
}

func (d dto) creation() string        { return d.class("create", "%sCreation") }
func (d dto) criteria() string        { return d.class("search", "%sSearchCriteria") }
func (d dto) fetchOptions() string    { return d.class("fetchoptions", "%sFetchOptions") }
func (d dto) deletionOptions() string { return d.class("delete", "%sDeletionOptions") }
func (d dto) update() string          { return d.class("update", "%sUpdate") }

func (d dto) operation(sub, verb string) string {
	return fmt.Sprintf("as.dto.%s.%s.%s%sOperation", d.pkg, sub, verb, d.plural)
}

var dtos = map[Kind]dto{
	KindSpace:          {"space", "Space", "Spaces"},
	KindProject:        {"project", "Project", "Projects"},
	KindCollection:     {"experiment", "Experiment", "Experiments"},
	KindObject:         {"sample", "Sample", "Samples"},
	KindDataset:        {"dataset", "DataSet", "DataSets"},
	KindPropertyType:   {"property", "PropertyType", "PropertyTypes"},
	KindObjectType:     {"sample", "SampleType", "SampleTypes"},
	KindCollectionType: {"experiment", "ExperimentType", "ExperimentTypes"},
	KindDatasetType:    {"dataset", "DataSetType", "DataSetTypes"},
	KindPerson:         {"person", "Person", "Persons"},
	KindRoleAssignment: {"roleassignment", "RoleAssignment", "RoleAssignments"},
}

// the type kind of entities that have types
var typeKinds = map[Kind]Kind{
	KindCollection: KindCollectionType,
	KindObject:     KindObjectType,
	KindDataset:    KindDatasetType,
}

// the entity kinds of the openBIS EntityTypePermId
var entityKinds = map[Kind]string{
	KindCollectionType: "EXPERIMENT",
	KindObjectType:     "SAMPLE",
	KindDatasetType:    "DATA_SET",
}

type rpcRequest struct {
	Id      string `json:"id"`
	JsonRpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RPC is a Client for a remote openBIS server speaking the JSON-RPC flavour
// of its v3 API. Datasets are uploaded through the data store server's
// session workspace.
type RPC struct {
	url    string
	client http.Client
	id     atomic.Int64
}

// creates an RPC client from the global LIMS configuration
func NewRPCFromConfig() *RPC {
	return NewRPC(config.Lims.URL, time.Duration(config.Lims.Timeout)*time.Second)
}

// creates an RPC client for the server at the given base URL
func NewRPC(baseURL string, timeout time.Duration) *RPC {
	return &RPC{
		url:    strings.TrimSuffix(baseURL, "/"),
		client: newHttpClient(timeout),
	}
}

// calls a JSON-RPC method, decoding its result into result (if non-nil)
func (r *RPC) call(ctx context.Context, path, method string, result any, params ...any) error {
	response, err := r.exchange(ctx, path, rpcRequest{
		Id:      strconv.FormatInt(r.id.Add(1), 10),
		JsonRpc: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	if response.Error != nil {
		return classifyRemoteError(method, response.Error.Message)
	}
	if result != nil && len(response.Result) > 0 {
		return json.Unmarshal(response.Result, result)
	}
	return nil
}

// converts an error message from the server into one of this package's
// error types
func classifyRemoteError(method, message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "session"):
		return &SessionError{Message: message}
	case strings.Contains(lower, "already exists"), strings.Contains(lower, "unique"):
		return &DuplicateError{}
	}
	return &RemoteError{Method: method, Message: message}
}

func (r *RPC) Login(ctx context.Context, user, password string) (string, error) {
	var token *string
	if err := r.call(ctx, applicationServerPath, "login", &token, user, password); err != nil {
		return "", err
	}
	if token == nil || *token == "" {
		return "", &AuthenticationError{User: user}
	}
	return *token, nil
}

func (r *RPC) Logout(ctx context.Context, session string) error {
	return r.call(ctx, applicationServerPath, "logout", nil, session)
}

func (r *RPC) IsSessionActive(ctx context.Context, session string) (bool, error) {
	var active bool
	err := r.call(ctx, applicationServerPath, "isSessionActive", &active, session)
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return false, nil
	}
	return active, err
}

func (r *RPC) SessionInformation(ctx context.Context, session string) (SessionInformation, error) {
	var result any
	if err := r.call(ctx, applicationServerPath, "getSessionInformation", &result, session); err != nil {
		return SessionInformation{}, err
	}
	refs := indexRefs(result)
	info := refs.object(result)
	if info == nil {
		return SessionInformation{}, &SessionError{Message: "no session information"}
	}
	si := SessionInformation{UserId: stringField(info, "userName")}
	if person := refs.object(info["person"]); person != nil {
		si.PermId = refs.nested(person, "permId", "permId")
		si.HomeSpace = refs.nested(person, "space", "code")
	}
	return si, nil
}

// encodes an entity id for the API
func objectId(kind Kind, identifier string) map[string]any {
	if IsPending(identifier) {
		return map[string]any{"@type": "as.dto.common.id.CreationId", "creationId": identifier}
	}
	switch kind {
	case KindSpace:
		return map[string]any{"@type": "as.dto.space.id.SpacePermId",
			"permId": strings.TrimPrefix(identifier, "/")}
	case KindProject:
		return map[string]any{"@type": "as.dto.project.id.ProjectIdentifier", "identifier": identifier}
	case KindCollection:
		return map[string]any{"@type": "as.dto.experiment.id.ExperimentIdentifier", "identifier": identifier}
	case KindObject:
		if strings.Contains(identifier, "/") {
			return map[string]any{"@type": "as.dto.sample.id.SampleIdentifier", "identifier": identifier}
		}
		return map[string]any{"@type": "as.dto.sample.id.SamplePermId", "permId": identifier}
	case KindDataset:
		return map[string]any{"@type": "as.dto.dataset.id.DataSetPermId", "permId": identifier}
	case KindPropertyType:
		return map[string]any{"@type": "as.dto.property.id.PropertyTypePermId", "permId": identifier}
	case KindObjectType, KindCollectionType, KindDatasetType:
		return map[string]any{"@type": "as.dto.entitytype.id.EntityTypePermId",
			"permId": identifier, "entityKind": entityKinds[kind]}
	case KindPerson:
		return map[string]any{"@type": "as.dto.person.id.PersonPermId", "permId": identifier}
	case KindRoleAssignment:
		techId, _ := strconv.ParseInt(identifier, 10, 64)
		return map[string]any{"@type": "as.dto.roleassignment.id.RoleAssignmentTechId", "techId": techId}
	}
	return nil
}

func fetchOptions(kind Kind) map[string]any {
	options := func(k Kind) map[string]any {
		return map[string]any{"@type": dtos[k].fetchOptions()}
	}
	f := options(kind)
	f["registrator"] = options(KindPerson)
	properties := map[string]any{"@type": "as.dto.property.fetchoptions.PropertyFetchOptions"}
	if typeKind, found := typeKinds[kind]; found {
		f["type"] = options(typeKind)
		f["properties"] = properties
	}
	switch kind {
	case KindProject:
		f["space"] = options(KindSpace)
	case KindCollection:
		f["project"] = options(KindProject)
	case KindObject:
		f["space"] = options(KindSpace)
		f["project"] = options(KindProject)
		f["experiment"] = options(KindCollection)
		f["parents"] = options(KindObject)
	case KindDataset:
		f["sample"] = options(KindObject)
		f["experiment"] = options(KindCollection)
	case KindObjectType, KindCollectionType, KindDatasetType:
		assignments := map[string]any{
			"@type":        "as.dto.property.fetchoptions.PropertyAssignmentFetchOptions",
			"propertyType": options(KindPropertyType),
		}
		f["propertyAssignments"] = assignments
	case KindPerson:
		f["space"] = options(KindSpace)
	case KindRoleAssignment:
		delete(f, "registrator")
		f["user"] = options(KindPerson)
		f["space"] = options(KindSpace)
		f["project"] = options(KindProject)
	}
	return f
}

func equalTo(criteriaType, value string) map[string]any {
	return map[string]any{
		"@type":      criteriaType,
		"fieldValue": map[string]any{"@type": "as.dto.common.search.StringEqualToValue", "value": value},
	}
}

func nestedCriteria(kind Kind, criterion map[string]any) map[string]any {
	return map[string]any{"@type": dtos[kind].criteria(), "operator": "AND", "criteria": []any{criterion}}
}

func searchCriteria(kind Kind, c Criteria) map[string]any {
	criteria := make([]any, 0)
	if c.Space != "" {
		criteria = append(criteria, nestedCriteria(KindSpace,
			equalTo("as.dto.common.search.CodeSearchCriteria", c.Space)))
	}
	if c.Project != "" {
		criteria = append(criteria, nestedCriteria(KindProject,
			equalTo("as.dto.common.search.IdentifierSearchCriteria", c.Project)))
	}
	if c.Collection != "" {
		criteria = append(criteria, nestedCriteria(KindCollection,
			equalTo("as.dto.common.search.IdentifierSearchCriteria", c.Collection)))
	}
	if typeKind, found := typeKinds[kind]; found && c.Type != "" {
		criteria = append(criteria, nestedCriteria(typeKind,
			equalTo("as.dto.common.search.CodeSearchCriteria", c.Type)))
	}
	if len(c.Codes) > 0 {
		criteria = append(criteria, map[string]any{
			"@type": "as.dto.common.search.CodesSearchCriteria", "fieldValue": c.Codes,
		})
	}
	return map[string]any{"@type": dtos[kind].criteria(), "operator": "AND", "criteria": criteria}
}

func (r *RPC) Get(ctx context.Context, session string, kind Kind, identifier string) (Entity, error) {
	if kind == KindRoleAssignment {
		assignments, err := r.Search(ctx, session, kind, Criteria{})
		if err != nil {
			return Entity{}, err
		}
		for _, a := range assignments {
			if a.Identifier == identifier || a.PermId == identifier {
				return a, nil
			}
		}
		return Entity{}, &NotFoundError{Kind: kind, Identifier: identifier}
	}
	return r.get(ctx, session, kind, objectId(kind, identifier), identifier)
}

func (r *RPC) get(ctx context.Context, session string, kind Kind, id map[string]any,
	identifier string) (Entity, error) {
	var result any
	err := r.call(ctx, applicationServerPath, "get"+dtos[kind].plural, &result,
		session, []any{id}, fetchOptions(kind))
	if err != nil {
		return Entity{}, err
	}
	refs := indexRefs(result)
	if found, ok := result.(map[string]any); ok {
		for _, value := range found {
			if raw := refs.object(value); raw != nil {
				return decodeEntity(kind, raw, refs), nil
			}
		}
	}
	return Entity{}, &NotFoundError{Kind: kind, Identifier: identifier}
}

func (r *RPC) Search(ctx context.Context, session string, kind Kind, criteria Criteria) ([]Entity, error) {
	var result any
	err := r.call(ctx, applicationServerPath, "search"+dtos[kind].plural, &result,
		session, searchCriteria(kind, criteria), fetchOptions(kind))
	if err != nil {
		return nil, err
	}
	refs := indexRefs(result)
	entities := make([]Entity, 0)
	if page := refs.object(result); page != nil {
		objects, _ := page["objects"].([]any)
		for _, o := range objects {
			if raw := refs.object(o); raw != nil {
				entities = append(entities, decodeEntity(kind, raw, refs))
			}
		}
	}
	return entities, nil
}

// encodes the creation of an entity
func creation(e Entity, ref string) (map[string]any, error) {
	c := map[string]any{"@type": dtos[e.Kind].creation()}
	if e.Description != "" {
		c["description"] = e.Description
	}
	if e.Properties != nil {
		c["properties"] = e.Properties
	}
	assignments := func() []any {
		encoded := make([]any, len(e.Assignments))
		for i, a := range e.Assignments {
			encoded[i] = map[string]any{
				"@type":          "as.dto.property.create.PropertyAssignmentCreation",
				"propertyTypeId": objectId(KindPropertyType, a.PropertyType),
				"section":        a.Section,
				"mandatory":      a.Mandatory,
			}
		}
		return encoded
	}
	switch e.Kind {
	case KindSpace:
		c["code"] = e.Code
	case KindProject:
		c["code"] = e.Code
		c["spaceId"] = objectId(KindSpace, e.Space)
	case KindCollection:
		c["code"] = e.Code
		c["typeId"] = objectId(KindCollectionType, e.Type)
		c["projectId"] = objectId(KindProject, e.Project)
	case KindObject:
		if e.Code != "" {
			c["code"] = e.Code
		}
		c["typeId"] = objectId(KindObjectType, e.Type)
		if ref != "" {
			c["creationId"] = objectId(KindObject, ref)
		}
		if e.Space != "" {
			c["spaceId"] = objectId(KindSpace, e.Space)
		}
		if e.Project != "" {
			c["projectId"] = objectId(KindProject, e.Project)
		}
		if e.Collection != "" {
			c["experimentId"] = objectId(KindCollection, e.Collection)
		}
		parents := make([]any, len(e.Parents))
		for i, parent := range e.Parents {
			parents[i] = objectId(KindObject, parent)
		}
		c["parentIds"] = parents
	case KindPropertyType:
		label := e.Label
		if label == "" {
			label = e.Code
		}
		c["code"], c["label"], c["dataType"] = e.Code, label, e.DataType
		if e.Description == "" {
			c["description"] = label
		}
		if e.Vocabulary != "" {
			c["vocabularyId"] = map[string]any{"@type": "as.dto.vocabulary.id.VocabularyPermId",
				"permId": e.Vocabulary}
		}
	case KindObjectType:
		c["code"] = e.Code
		c["generatedCodePrefix"] = e.Prefix
		c["autoGeneratedCode"] = e.AutoGenerateCodes
		c["propertyAssignments"] = assignments()
	case KindCollectionType, KindDatasetType:
		c["code"] = e.Code
		c["propertyAssignments"] = assignments()
	case KindPerson:
		c["userId"] = e.Code
	case KindRoleAssignment:
		c["role"] = e.Role
		c["userId"] = objectId(KindPerson, e.User)
		switch e.Level {
		case "SPACE":
			c["spaceId"] = objectId(KindSpace, e.Space)
		case "PROJECT":
			c["projectId"] = objectId(KindProject, e.Project)
		}
	default:
		return nil, &InvalidEntityError{Kind: e.Kind, Code: e.Code, Message: "cannot be created remotely"}
	}
	return c, nil
}

// encodes an update of an entity's description or properties
func update(e Entity) (map[string]any, error) {
	identifier := e.Identifier
	if identifier == "" {
		identifier = e.ComputeIdentifier()
	}
	u := map[string]any{"@type": dtos[e.Kind].update()}
	switch e.Kind {
	case KindSpace:
		u["spaceId"] = objectId(e.Kind, identifier)
	case KindProject:
		u["projectId"] = objectId(e.Kind, identifier)
	case KindCollection:
		u["experimentId"] = objectId(e.Kind, identifier)
		u["properties"] = e.Properties
	case KindObject:
		u["sampleId"] = objectId(e.Kind, identifier)
		u["properties"] = e.Properties
	default:
		return nil, &InvalidEntityError{Kind: e.Kind, Code: e.Code, Message: "cannot be updated remotely"}
	}
	if e.Description != "" {
		u["description"] = map[string]any{"@type": "as.dto.common.update.FieldUpdateValue",
			"isModified": true, "value": e.Description}
	}
	return u, nil
}

// Executes the operations. Dataset files are uploaded into the session
// workspace first, where nothing is visible until registration. Everything
// but dataset creations then goes to the application server in one
// executeOperations call, which openBIS runs in a single database
// transaction, and the uploads are registered against the committed
// objects. If a registration fails, the entities created by the call are
// deleted again.
func (r *RPC) Execute(ctx context.Context, session string, operations []Operation) ([]Entity, error) {
	resolved := make(map[string]string)
	var encoded []any
	var indices []int
	var datasets []int
	for i, op := range operations {
		e := op.Entity.Clone()
		substituteReferences(&e, resolved)
		if op.Action == ActionCreate && e.Kind == KindDataset {
			datasets = append(datasets, i)
			continue
		}
		d, found := dtos[e.Kind]
		if !found {
			return nil, &TransactionError{Operation: i, Err: &InvalidEntityError{Kind: e.Kind,
				Code: e.Code, Message: "unknown kind"}}
		}
		var encodedOp map[string]any
		switch op.Action {
		case ActionCreate:
			c, err := creation(e, op.Ref)
			if err != nil {
				return nil, &TransactionError{Operation: i, Err: err}
			}
			encodedOp = map[string]any{"@type": d.operation("create", "Create"), "creations": []any{c}}
			// staged entities with codes have known identifiers
			if op.Ref != "" && e.Code != "" {
				resolved[op.Ref] = e.ComputeIdentifier()
			}
		case ActionUpdate:
			u, err := update(e)
			if err != nil {
				return nil, &TransactionError{Operation: i, Err: err}
			}
			encodedOp = map[string]any{"@type": d.operation("update", "Update"), "updates": []any{u}}
		case ActionDelete:
			reason := op.Reason
			if reason == "" {
				reason = "deleted by the uploader"
			}
			encodedOp = map[string]any{
				"@type":     d.operation("delete", "Delete"),
				"objectIds": []any{objectId(e.Kind, e.Identifier)},
				"options":   map[string]any{"@type": d.deletionOptions(), "reason": reason},
			}
		default:
			return nil, &TransactionError{Operation: i, Err: fmt.Errorf("unknown action %s", op.Action)}
		}
		encoded = append(encoded, encodedOp)
		indices = append(indices, i)
	}

	uploads := make(map[int]string)
	for _, i := range datasets {
		uploadId, err := r.uploadFiles(ctx, session, operations[i].Entity.Files)
		if err != nil {
			return nil, &TransactionError{Operation: i, Err: err}
		}
		uploads[i] = uploadId
	}

	// ids of everything created by the application server, by operation
	createdIds := make(map[int]map[string]any)
	if len(encoded) > 0 {
		var result any
		err := r.call(ctx, applicationServerPath, "executeOperations", &result, session, encoded,
			map[string]any{"@type": "as.dto.operation.SynchronousOperationExecutionOptions"})
		if err != nil {
			var duplicate *DuplicateError
			if errors.As(err, &duplicate) && len(encoded) == 1 {
				e := operations[indices[0]].Entity
				duplicate.Kind, duplicate.Identifier = e.Kind, e.ComputeIdentifier()
			}
			return nil, &TransactionError{Operation: indices[0], Err: err}
		}
		refs := indexRefs(result)
		if results := refs.object(result); results != nil {
			list, _ := results["results"].([]any)
			for j, item := range list {
				if j >= len(indices) || operations[indices[j]].Action != ActionCreate {
					continue
				}
				if opResult := refs.object(item); opResult != nil {
					if ids, _ := opResult["objectIds"].([]any); len(ids) > 0 {
						createdIds[indices[j]] = refs.object(ids[0])
					}
				}
			}
		}
	}

	// sample perm ids for pending references used by datasets
	samples := make(map[string]map[string]any)
	for i, id := range createdIds {
		if ref := operations[i].Ref; ref != "" && operations[i].Entity.Kind == KindObject {
			samples[ref] = id
		}
	}
	for _, i := range datasets {
		id, err := r.registerDataset(ctx, session, operations[i].Entity, uploads[i], resolved, samples)
		if err != nil {
			r.rollback(ctx, session, operations, createdIds)
			return nil, &TransactionError{Operation: i, Err: err}
		}
		createdIds[i] = id
	}

	created := make([]Entity, 0, len(createdIds))
	for i, op := range operations {
		if op.Action != ActionCreate {
			continue
		}
		id, found := createdIds[i]
		if !found {
			return nil, &TransactionError{Operation: i, Err: fmt.Errorf("no id returned for %s", op.Ref)}
		}
		e, err := r.get(ctx, session, op.Entity.Kind, id, op.Ref)
		if err != nil {
			return nil, err
		}
		created = append(created, e)
	}
	return created, nil
}

// deletes the entities an aborted Execute created, newest first; updates and
// deletions committed along with them stay applied
func (r *RPC) rollback(ctx context.Context, session string, operations []Operation,
	createdIds map[int]map[string]any) {
	indices := make([]int, 0, len(createdIds))
	for i := range createdIds {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	slices.Reverse(indices)
	encoded := make([]any, 0, len(indices))
	for _, i := range indices {
		d := dtos[operations[i].Entity.Kind]
		id := make(map[string]any)
		for key, value := range createdIds[i] {
			if key != "@id" {
				id[key] = value
			}
		}
		encoded = append(encoded, map[string]any{
			"@type":     d.operation("delete", "Delete"),
			"objectIds": []any{id},
			"options":   map[string]any{"@type": d.deletionOptions(), "reason": "rolled back by the uploader"},
		})
	}
	if len(encoded) == 0 {
		return
	}
	err := r.call(context.WithoutCancel(ctx), applicationServerPath, "executeOperations", nil,
		session, encoded, map[string]any{"@type": "as.dto.operation.SynchronousOperationExecutionOptions"})
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't roll back %d created entities: %s", len(encoded), err.Error()))
		return
	}
	slog.Warn(fmt.Sprintf("Rolled back %d created entities", len(encoded)))
}

// uploads files into a fresh folder of the session workspace, returning the
// folder's name
func (r *RPC) uploadFiles(ctx context.Context, session string, files []string) (string, error) {
	uploadId := uuid.NewString()
	for _, file := range files {
		if err := r.upload(ctx, session, uploadId, file); err != nil {
			return "", err
		}
	}
	return uploadId, nil
}

// registers the files uploaded to uploadId as a dataset
func (r *RPC) registerDataset(ctx context.Context, session string, e Entity, uploadId string,
	resolved map[string]string, samples map[string]map[string]any) (map[string]any, error) {
	creation := map[string]any{
		"@type":      "dss.dto.dataset.create.UploadedDataSetCreation",
		"typeId":     objectId(KindDatasetType, e.Type),
		"properties": e.Properties,
		"parentIds":  []any{},
		"uploadId":   uploadId,
	}
	if creation["properties"] == nil {
		creation["properties"] = map[string]any{}
	}
	switch {
	case e.Object != "":
		if id, found := samples[e.Object]; found {
			creation["sampleId"] = id
		} else {
			object := e.Object
			if id, found := resolved[object]; found {
				object = id
			}
			creation["sampleId"] = objectId(KindObject, object)
		}
	case e.Collection != "":
		collection := e.Collection
		if id, found := resolved[collection]; found {
			collection = id
		}
		creation["experimentId"] = objectId(KindCollection, collection)
	default:
		return nil, &InvalidEntityError{Kind: KindDataset, Code: e.Code,
			Message: "a dataset needs an object or a collection"}
	}
	var permId map[string]any
	if err := r.call(ctx, dataStoreServerPath, "createUploadedDataSet", &permId, session, creation); err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("Registered dataset %v from %d files", permId["permId"], len(e.Files)))
	return map[string]any{"@type": "as.dto.dataset.id.DataSetPermId", "permId": permId["permId"]}, nil
}

// uploads one local file into the session workspace folder uploadId
func (r *RPC) upload(ctx context.Context, session, uploadId, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	query := url.Values{
		"filename":  {uploadId + "/" + filepath.Base(path)},
		"id":        {"1"},
		"startByte": {"0"},
		"endByte":   {strconv.FormatInt(info.Size(), 10)},
		"sessionID": {session},
	}
	resp, err := r.post(ctx, workspaceUploadPath+"?"+query.Encode(), "application/octet-stream",
		file, info.Size())
	if err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			unavailable.Message = fmt.Sprintf("upload of %s: %s", path, unavailable.Message)
		}
		return err
	}
	return resp.Body.Close()
}

//-----------------
// Result decoding
//-----------------

// Objects in API results that occur more than once are serialized in full
// the first time (with an "@id") and as that number afterwards.
type refIndex map[float64]map[string]any

func indexRefs(v any) refIndex {
	refs := make(refIndex)
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			if id, ok := t["@id"].(float64); ok {
				refs[id] = t
			}
			for _, child := range t {
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(v)
	return refs
}

func (refs refIndex) object(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case float64:
		return refs[t]
	}
	return nil
}

// returns the string field of the object held in m[key]
func (refs refIndex) nested(m map[string]any, key, field string) string {
	if o := refs.object(m[key]); o != nil {
		return stringField(o, field)
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func decodeEntity(kind Kind, raw map[string]any, refs refIndex) Entity {
	e := Entity{
		Kind:        kind,
		Code:        stringField(raw, "code"),
		Description: stringField(raw, "description"),
		PermId:      refs.nested(raw, "permId", "permId"),
		Registrator: refs.nested(raw, "registrator", "userId"),
	}
	identifier := refs.nested(raw, "identifier", "identifier")
	if props, ok := raw["properties"].(map[string]any); ok && len(props) > 0 {
		e.Properties = props
	}
	if _, found := typeKinds[kind]; found {
		e.Type = refs.nested(raw, "type", "code")
	}
	switch kind {
	case KindSpace:
		e.Identifier = "/" + e.Code
	case KindProject:
		e.Identifier = identifier
		e.Space = refs.nested(raw, "space", "code")
	case KindCollection:
		e.Identifier = identifier
		if project := refs.object(raw["project"]); project != nil {
			e.Project = refs.nested(project, "identifier", "identifier")
		}
		e.Space, _, _ = SplitIdentifier(identifier)
	case KindObject:
		e.Identifier = identifier
		e.Space = refs.nested(raw, "space", "code")
		if project := refs.object(raw["project"]); project != nil {
			e.Project = refs.nested(project, "identifier", "identifier")
		}
		if experiment := refs.object(raw["experiment"]); experiment != nil {
			e.Collection = refs.nested(experiment, "identifier", "identifier")
		}
		parents, _ := raw["parents"].([]any)
		for _, p := range parents {
			if parent := refs.object(p); parent != nil {
				e.Parents = append(e.Parents, refs.nested(parent, "identifier", "identifier"))
			}
		}
	case KindDataset:
		e.Identifier = e.PermId
		if sample := refs.object(raw["sample"]); sample != nil {
			e.Object = refs.nested(sample, "identifier", "identifier")
		}
		if experiment := refs.object(raw["experiment"]); experiment != nil {
			e.Collection = refs.nested(experiment, "identifier", "identifier")
		}
	case KindPropertyType:
		e.Identifier = e.Code
		e.Label = stringField(raw, "label")
		e.DataType = stringField(raw, "dataType")
		e.Vocabulary = refs.nested(raw, "vocabulary", "code")
	case KindObjectType, KindCollectionType, KindDatasetType:
		e.Identifier = e.Code
		e.Prefix = stringField(raw, "generatedCodePrefix")
		e.AutoGenerateCodes, _ = raw["autoGeneratedCode"].(bool)
		assignments, _ := raw["propertyAssignments"].([]any)
		for _, a := range assignments {
			if assignment := refs.object(a); assignment != nil {
				mandatory, _ := assignment["mandatory"].(bool)
				e.Assignments = append(e.Assignments, PropertyAssignment{
					PropertyType: refs.nested(assignment, "propertyType", "code"),
					Section:      stringField(assignment, "section"),
					Mandatory:    mandatory,
				})
			}
		}
	case KindPerson:
		e.Code = stringField(raw, "userId")
		e.Identifier = e.Code
		e.Space = refs.nested(raw, "space", "code")
	case KindRoleAssignment:
		e.PermId = refs.nested(raw, "id", "techId")
		e.Role = stringField(raw, "role")
		e.Level = stringField(raw, "roleLevel")
		e.User = refs.nested(raw, "user", "userId")
		e.Space = refs.nested(raw, "space", "code")
		if project := refs.object(raw["project"]); project != nil {
			e.Project = refs.nested(project, "identifier", "identifier")
		}
		e.Identifier = e.ComputeIdentifier()
	}
	return e
}
