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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// a JSON-RPC handler answering the calls the client makes with canned results
type fakeServer struct {
	t        *testing.T
	requests []rpcRequest
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.requests = append(f.requests, req)
	var result any
	var rpcErr map[string]any
	switch req.Method {
	case "login":
		if req.Params[1] == "password" {
			result = "basi-230101"
		}
	case "isSessionActive":
		result = req.Params[0] == "basi-230101"
	case "searchSpaces":
		result = map[string]any{
			"@id": 1,
			"objects": []any{
				map[string]any{"@id": 2, "code": "LAB", "permId": map[string]any{"permId": "LAB"},
					"registrator": map[string]any{"@id": 3, "userId": "basi"}},
				map[string]any{"@id": 4, "code": "METHODS", "permId": map[string]any{"permId": "METHODS"},
					"registrator": map[string]any{"@id": 5, "userId": "system"}},
				map[string]any{"@id": 6, "code": "OTHER", "permId": map[string]any{"permId": "OTHER"},
					"registrator": 3},
			},
			"totalCount": 3,
		}
	case "getSamples":
		result = map[string]any{
			"/LAB/P/S1": map[string]any{
				"code":       "S1",
				"identifier": map[string]any{"identifier": "/LAB/P/S1"},
				"permId":     map[string]any{"permId": "20230101-1"},
				"type":       map[string]any{"code": "ENTRY"},
				"space":      map[string]any{"@id": 7, "code": "LAB"},
				"project": map[string]any{"@id": 8, "code": "P",
					"identifier": map[string]any{"identifier": "/LAB/P"}, "space": 7},
				"experiment": map[string]any{"code": "C", "identifier": map[string]any{"identifier": "/LAB/P/C"},
					"project": 8},
				"properties": map[string]any{"$NAME": "first"},
				"parents":    []any{},
			},
		}
	case "executeOperations":
		rpcErr = map[string]any{"code": 1, "message": "Space LAB already exists"}
	default:
		rpcErr = map[string]any{"code": 1, "message": "unknown method " + req.Method}
	}
	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{"id": req.Id, "jsonrpc": "2.0", "result": result}
	if rpcErr != nil {
		response = map[string]any{"id": req.Id, "jsonrpc": "2.0", "error": rpcErr}
	}
	json.NewEncoder(w).Encode(response)
}

func newTestRPC(t *testing.T) (*RPC, *fakeServer) {
	fake := &fakeServer{t: t}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return NewRPC(server.URL+"/", 5*time.Second), fake
}

func TestRPCLogin(t *testing.T) {
	assert := assert.New(t)
	r, fake := newTestRPC(t)
	ctx := context.Background()

	token, err := r.Login(ctx, "basi", "password")
	assert.Nil(err)
	assert.Equal("basi-230101", token)
	assert.Equal("2.0", fake.requests[0].JsonRpc)

	_, err = r.Login(ctx, "basi", "wrong")
	var authErr *AuthenticationError
	assert.True(errors.As(err, &authErr))

	active, err := r.IsSessionActive(ctx, token)
	assert.Nil(err)
	assert.True(active)
	active, err = r.IsSessionActive(ctx, "stale")
	assert.Nil(err)
	assert.False(active)
}

func TestRPCSearchResolvesReferences(t *testing.T) {
	assert := assert.New(t)
	r, fake := newTestRPC(t)

	spaces, err := r.Search(context.Background(), "basi-230101", KindSpace, Criteria{Codes: []string{"LAB"}})
	assert.Nil(err)
	assert.Len(spaces, 3)
	assert.Equal("/LAB", spaces[0].Identifier)
	assert.Equal("basi", spaces[0].Registrator)
	assert.Equal("system", spaces[1].Registrator)
	// the third registrator is a back-reference to the first
	assert.Equal("basi", spaces[2].Registrator)

	params := fake.requests[0].Params
	criteria := params[1].(map[string]any)
	assert.Equal("as.dto.space.search.SpaceSearchCriteria", criteria["@type"])
	fetch := params[2].(map[string]any)
	assert.Equal("as.dto.space.fetchoptions.SpaceFetchOptions", fetch["@type"])
}

func TestRPCGetObject(t *testing.T) {
	assert := assert.New(t)
	r, fake := newTestRPC(t)

	object, err := r.Get(context.Background(), "basi-230101", KindObject, "/LAB/P/S1")
	assert.Nil(err)
	assert.Equal("S1", object.Code)
	assert.Equal("ENTRY", object.Type)
	assert.Equal("LAB", object.Space)
	assert.Equal("/LAB/P", object.Project)
	assert.Equal("/LAB/P/C", object.Collection)
	assert.Equal("first", object.Properties["$NAME"])

	id := fake.requests[0].Params[1].([]any)[0].(map[string]any)
	assert.Equal("as.dto.sample.id.SampleIdentifier", id["@type"])
}

func TestRPCExecuteDuplicate(t *testing.T) {
	r, _ := newTestRPC(t)
	s := NewSession(r, "basi-230101")
	_, _, err := s.CreateOrFetch(context.Background(), NewSpace("LAB", ""))
	// the fake server has no getSpaces, so fetching the duplicate fails remotely
	var remote *RemoteError
	assert.True(t, errors.As(err, &remote))
	assert.Equal(t, "getSpaces", remote.Method)
}

func TestRPCEncodesCreations(t *testing.T) {
	assert := assert.New(t)
	c, err := creation(NewObject("/LAB/P/C", "", "ENTRY", nil), "$PENDING-1")
	assert.Nil(err)
	assert.Equal("as.dto.sample.create.SampleCreation", c["@type"])
	assert.Equal(map[string]any{"@type": "as.dto.common.id.CreationId", "creationId": "$PENDING-1"},
		c["creationId"])
	assert.Equal(map[string]any{"@type": "as.dto.experiment.id.ExperimentIdentifier",
		"identifier": "/LAB/P/C"}, c["experimentId"])
	assert.NotContains(c, "code")

	c, err = creation(Entity{Kind: KindObjectType, Code: "ICP", Prefix: "ICP",
		Assignments: []PropertyAssignment{{PropertyType: "MASS", Mandatory: true}}}, "")
	assert.Nil(err)
	assert.Equal("as.dto.sample.create.SampleTypeCreation", c["@type"])
	assert.Len(c["propertyAssignments"], 1)

	assert.Equal("as.dto.experiment.delete.DeleteExperimentsOperation",
		dtos[KindCollection].operation("delete", "Delete"))
}

// a LIMS that creates objects, and whose data store fails as configured
type scriptedServer struct {
	mu           sync.Mutex
	calls        []string
	operations   [][]any
	uploadStatus int
	registerErr  string
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path == workspaceUploadPath {
		s.calls = append(s.calls, "upload")
		w.WriteHeader(s.uploadStatus)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.calls = append(s.calls, req.Method)
	response := map[string]any{"id": req.Id, "jsonrpc": "2.0"}
	switch req.Method {
	case "executeOperations":
		operations, _ := req.Params[1].([]any)
		s.operations = append(s.operations, operations)
		response["result"] = map[string]any{"results": []any{
			map[string]any{"objectIds": []any{
				map[string]any{"@id": 1, "@type": "as.dto.sample.id.SamplePermId", "permId": "20240101-1"},
			}},
		}}
	case "createUploadedDataSet":
		if s.registerErr != "" {
			response["error"] = map[string]any{"code": 1, "message": s.registerErr}
		} else {
			response["result"] = map[string]any{"permId": "20240101-2"}
		}
	default:
		response["error"] = map[string]any{"code": 1, "message": "unknown method " + req.Method}
	}
	json.NewEncoder(w).Encode(response)
}

// an object and a dataset attached to it
func measurementOperations(t *testing.T) []Operation {
	path := filepath.Join(t.TempDir(), "batch.zip")
	if err := os.WriteFile(path, []byte("PK"), 0644); err != nil {
		t.Fatalf("Couldn't write %s: %s", path, err)
	}
	return []Operation{
		{Action: ActionCreate, Entity: NewObject("/LAB/P/C", "", "ENTRY", nil), Ref: "$PENDING-1"},
		{Action: ActionCreate, Ref: "$PENDING-2", Entity: Entity{Kind: KindDataset, Type: "RAW_DATA",
			Object: "$PENDING-1", Files: []string{path}}},
	}
}

func newScriptedRPC(t *testing.T, s *scriptedServer) *RPC {
	server := httptest.NewServer(s)
	t.Cleanup(server.Close)
	return NewRPC(server.URL, 5*time.Second)
}

func TestRPCExecuteFailedUploadCommitsNothing(t *testing.T) {
	assert := assert.New(t)
	s := &scriptedServer{uploadStatus: http.StatusInternalServerError}
	r := newScriptedRPC(t, s)

	_, err := r.Execute(context.Background(), "basi-230101", measurementOperations(t))
	var txErr *TransactionError
	assert.True(errors.As(err, &txErr))
	assert.Equal(1, txErr.Operation)
	var unavailable *UnavailableError
	assert.True(errors.As(err, &unavailable))
	assert.Contains(unavailable.Message, "batch.zip")
	// the object was never sent
	assert.Equal([]string{"upload"}, s.calls)
}

func TestRPCExecuteRollsBackFailedRegistration(t *testing.T) {
	assert := assert.New(t)
	s := &scriptedServer{uploadStatus: http.StatusOK, registerErr: "data store full"}
	r := newScriptedRPC(t, s)

	_, err := r.Execute(context.Background(), "basi-230101", measurementOperations(t))
	var txErr *TransactionError
	assert.True(errors.As(err, &txErr))
	assert.Equal(1, txErr.Operation)
	assert.Equal([]string{"upload", "executeOperations", "createUploadedDataSet", "executeOperations"},
		s.calls)

	// the committed object is deleted again
	if assert.Len(s.operations, 2) && assert.Len(s.operations[1], 1) {
		deletion := s.operations[1][0].(map[string]any)
		assert.Equal("as.dto.sample.delete.DeleteSamplesOperation", deletion["@type"])
		id := deletion["objectIds"].([]any)[0].(map[string]any)
		assert.Equal("20240101-1", id["permId"])
		assert.NotContains(id, "@id")
	}
}
