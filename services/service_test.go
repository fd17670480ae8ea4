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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/empa-scientific-it/openbis-uploader/auth"
	"github.com/empa-scientific-it/openbis-uploader/credentials"
	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/jobs"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
	"github.com/empa-scientific-it/openbis-uploader/parsers/icpms"
	"github.com/empa-scientific-it/openbis-uploader/uploadertest"
)

// temporary testing directory
var testRoot string

const batchLog = `Vial Number,Sample Name,Comment,Acquisition Time,Acquisition Result
1,Blank,,01.02.2023 10:00,Pass
2,Sample A,,01.02.2023 10:10,Fail
3,Sample B,Zürich river,01.02.2023 10:20,Pass
`

const measurements = "/LAB/ICP/ICP_MS_MEASUREMENTS"

// a running API service with a worker behind it
type fixture struct {
	server      *httptest.Server
	session     *openbis.Session
	store       *datastore.Store
	credentials *credentials.Store
}

func newFixture(t *testing.T) *fixture {
	b, _ := uploadertest.NewBroker(t)
	c, err := credentials.NewContext("0f6e6c1e2d3b4a59a3a7f3b9d2c64c0a", "HS256", 30*time.Minute)
	if err != nil {
		t.Fatalf("Couldn't create credentials context: %s", err)
	}
	var key fernet.Key
	if err := key.Generate(); err != nil {
		t.Fatalf("Couldn't generate encryption key: %s", err)
	}
	credentialStore, err := credentials.NewStore(c, b, key.Encode(), credentials.GlobalInvalidation)
	if err != nil {
		t.Fatalf("Couldn't create credentials store: %s", err)
	}

	dir := uploadertest.NewDirectory("dc=empa,dc=ch", "cn=admin,dc=empa,dc=ch", "principal")
	dir.AddUser(uploadertest.DirectoryUser{
		Uid:      "basi",
		Password: "password",
		Name:     "Simone Baffelli",
		MemberOf: []string{"cn=lab,ou=groups,dc=empa,dc=ch"},
	})
	dir.AddUser(uploadertest.DirectoryUser{Uid: "loner", Password: "password"})
	lims, session := uploadertest.NewLims(t, "basi", "password")
	lims.AddUser("uploader", "service")

	dirServer := auth.NewDirectoryServer(c, credentialStore, dir.Client(), "cn")
	limsServer := auth.NewLimsServer(c, credentialStore, lims, "uploader", "service")
	manager, err := auth.NewManager(c, credentialStore, auth.LimsService, dirServer, limsServer)
	if err != nil {
		t.Fatalf("Couldn't create auth manager: %s", err)
	}

	catalog := map[string]parsers.Factory{icpms.Name: icpms.New}
	stores := datastore.NewStores(filepath.Join(testRoot, t.Name()), catalog, nil)
	store, err := stores.Open("lab")
	if err != nil {
		t.Fatalf("Couldn't open data store: %s", err)
	}

	worker := jobs.NewWorker(b, stores, limsServer, nil, jobs.Options{
		Queue:       "jobs",
		Concurrency: 1,
		Wait:        100 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	service, err := New(Dependencies{
		Auth:         manager,
		Directory:    dirServer,
		Lims:         limsServer,
		Stores:       stores,
		Jobs:         jobs.NewOrchestrator(b, "jobs"),
		ProgressPoll: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Couldn't create service: %s", err)
	}
	server := httptest.NewServer(service.Router)
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return &fixture{server: server, session: session, store: store, credentials: credentialStore}
}

func (f *fixture) request(t *testing.T, method, path, token string, body io.Reader,
	contentType string) *http.Response {
	req, err := http.NewRequest(method, f.server.URL+path, body)
	if err != nil {
		t.Fatalf("Couldn't create request: %s", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %s", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path, token string) *http.Response {
	return f.request(t, http.MethodGet, path, token, nil, "")
}

// sends body as JSON; a nil body sends nothing
func (f *fixture) putJSON(t *testing.T, path, token string, body any) *http.Response {
	if body == nil {
		return f.request(t, http.MethodPut, path, token, nil, "")
	}
	data, _ := json.Marshal(body)
	return f.request(t, http.MethodPut, path, token, bytes.NewReader(data), "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Couldn't decode response: %s", err)
	}
	return v
}

func (f *fixture) login(t *testing.T, service, username, password string) string {
	form := url.Values{"username": {username}, "password": {password}}
	resp := f.request(t, http.MethodPost, fmt.Sprintf("/authorize/%s/token", service), "",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login into %s failed with status %d", service, resp.StatusCode)
	}
	return decode[TokenResponse](t, resp).AccessToken
}

func (f *fixture) upload(t *testing.T, token, path string) *http.Response {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		t.Fatalf("Couldn't create form file: %s", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Couldn't read %s: %s", path, err)
	}
	part.Write(data)
	w.Close()
	return f.request(t, http.MethodPost, "/datasets/", token, &body, w.FormDataContentType())
}

// polls the status of a job until it is done
func (f *fixture) waitFor(t *testing.T, token, id string) JobStatusResponse {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp := f.get(t, "/tasks/status?id="+id, token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Status of job %s gave %d", id, resp.StatusCode)
		}
		status := decode[JobStatusResponse](t, resp)
		if status.Status.Done() {
			return status
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Job %s didn't finish in time", id)
	return JobStatusResponse{}
}

func (f *fixture) submitBatch(t *testing.T, token string) string {
	uploadertest.WriteBatchArchive(t, f.store.Path(), "batch.zip", batchLog)
	resp := f.putJSON(t, "/datasets/transfer", token, jobs.ParserParameters{
		Source: "batch.zip",
		Parser: icpms.Name,
		Object: uploadertest.LimsTarget,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Transfer gave %d", resp.StatusCode)
	}
	return decode[TransferResponse](t, resp).TaskId
}

func TestRoot(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	resp := f.get(t, "/", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	info := decode[ServiceInfoResponse](t, resp)
	assert.Equal("openBIS uploader", info.Name)
	assert.Equal(version, info.Version)
}

func TestUploadAndTransfer(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	token := f.login(t, auth.DirectoryService, "basi", "password")

	archive := uploadertest.WriteBatchArchive(t, t.TempDir(), "batch.zip", batchLog)
	resp := f.upload(t, token, archive)
	assert.Equal(http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/datasets/find?pattern=batch.zip", token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	found := decode[FilesResponse](t, resp)
	if assert.Len(found.Files, 1) {
		assert.Equal("batch.zip", found.Files[0].Name)
	}

	resp = f.putJSON(t, "/datasets/transfer", token, jobs.ParserParameters{
		Source: "batch.zip",
		Parser: icpms.Name,
		Object: uploadertest.LimsTarget,
	})
	assert.Equal(http.StatusAccepted, resp.StatusCode)
	id := decode[TransferResponse](t, resp).TaskId
	assert.NotEmpty(id)

	status := f.waitFor(t, token, id)
	assert.Equal(jobs.StatusFinished, status.Status, status.Result)
	assert.Equal("basi", status.Owner)
	assert.Equal(uploadertest.LimsTarget, status.Target)

	entities, err := f.session.Search(context.Background(), openbis.KindObject,
		openbis.Criteria{Collection: measurements})
	assert.Nil(err)
	assert.Len(entities, 2)
}

func TestTransferRejections(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	token := f.login(t, auth.DirectoryService, "basi", "password")
	uploadertest.WriteBatchArchive(t, f.store.Path(), "batch.zip", batchLog)

	resp := f.putJSON(t, "/datasets/transfer", token, jobs.ParserParameters{
		Source:     "batch.zip",
		Parser:     icpms.Name,
		Object:     uploadertest.LimsTarget,
		Collection: uploadertest.LimsCollection,
	})
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = f.putJSON(t, "/datasets/transfer", token, jobs.ParserParameters{
		Source: "missing.zip",
		Parser: icpms.Name,
		Object: uploadertest.LimsTarget,
	})
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	resp = f.putJSON(t, "/datasets/transfer", token, jobs.ParserParameters{
		Source: "batch.zip",
		Parser: "unknown",
		Object: uploadertest.LimsTarget,
	})
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	resp = f.putJSON(t, "/datasets/transfer", "", jobs.ParserParameters{
		Source: "batch.zip",
		Parser: icpms.Name,
		Object: uploadertest.LimsTarget,
	})
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckTokens(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	resp := f.get(t, "/authorize/all/check?token=garbage", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	check := decode[CheckResponse](t, resp)
	assert.Equal("garbage", check.Token)
	assert.False(check.Valid)

	token := f.login(t, auth.AllServices, "basi", "password")
	for _, service := range []string{auth.DirectoryService, auth.LimsService, auth.AllServices} {
		resp = f.get(t, fmt.Sprintf("/authorize/%s/check", service), token)
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.True(decode[CheckResponse](t, resp).Valid, service)
	}

	resp = f.get(t, "/authorize/all/me", token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	info := decode[auth.UserInfo](t, resp)
	assert.Equal("basi", info.Username)
	assert.Equal("lab", info.Group)

	resp = f.get(t, "/authorize/all/logout", token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	resp = f.get(t, "/authorize/all/check", token)
	assert.False(decode[CheckResponse](t, resp).Valid)

	resp = f.get(t, "/authorize/nowhere/check?token=garbage", "")
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	// tokens that don't decode are refused rather than recorded
	resp = f.get(t, "/authorize/directory/logout", "garbage")
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	invalidated, err := f.credentials.IsInvalidated(context.Background(), "garbage")
	assert.Nil(err)
	assert.False(invalidated)
}

func TestLoginFailures(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	form := url.Values{"username": {"basi"}, "password": {"wrong"}}
	resp := f.request(t, http.MethodPost, "/authorize/directory/token", "",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)

	form = url.Values{"username": {"basi"}}
	resp = f.request(t, http.MethodPost, "/authorize/directory/token", "",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	assert.Equal(http.StatusUnprocessableEntity, resp.StatusCode)

	// a user without a group has no data store
	token := f.login(t, auth.DirectoryService, "loner", "password")
	resp = f.get(t, "/datasets/", token)
	assert.Equal(http.StatusForbidden, resp.StatusCode)

	resp = f.get(t, "/datasets/", "")
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestFiles(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	token := f.login(t, auth.DirectoryService, "basi", "password")

	notes := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(notes, []byte("notes"), 0644)
	assert.Equal(http.StatusOK, f.upload(t, token, notes).StatusCode)

	resp := f.get(t, "/datasets/", token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	listed := decode[FilesResponse](t, resp)
	if assert.Len(listed.Files, 1) {
		assert.Equal("notes.txt", listed.Files[0].Name)
		assert.EqualValues(5, listed.Files[0].Size)
	}

	resp = f.get(t, "/datasets/find?pattern=*.txt&recent=10", token)
	assert.Len(decode[FilesResponse](t, resp).Files, 1)
	resp = f.get(t, "/datasets/find?pattern=*.zip", token)
	assert.Len(decode[FilesResponse](t, resp).Files, 0)

	resp = f.request(t, http.MethodDelete, "/datasets/?name=notes.txt", token, nil, "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	resp = f.request(t, http.MethodDelete, "/datasets/?name=notes.txt", token, nil, "")
	assert.Equal(http.StatusNotFound, resp.StatusCode)
	resp = f.request(t, http.MethodDelete, "/datasets/?name=..", token, nil, "")
	assert.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestParsers(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	token := f.login(t, auth.DirectoryService, "basi", "password")

	resp := f.get(t, "/datasets/parsers", token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal([]string{icpms.Name}, decode[[]string](t, resp))

	resp = f.get(t, "/datasets/parser_info?parser="+icpms.Name, token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	schema := decode[parsers.Schema](t, resp)
	assert.Equal(icpms.Name, schema.Parser)

	resp = f.get(t, "/datasets/parser_info?parser=unknown", token)
	assert.Equal(http.StatusNoContent, resp.StatusCode)
}

func TestJobStatusErrors(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	token := f.login(t, auth.DirectoryService, "basi", "password")

	resp := f.get(t, "/tasks/status?id=de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2", token)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
	resp = f.get(t, "/tasks/status?id=nonsense", token)
	assert.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestJobLog(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	token := f.login(t, auth.DirectoryService, "basi", "password")
	id := f.submitBatch(t, token)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		fmt.Sprintf("/tasks/log?id=%s&token=%s", id, token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if !assert.Nil(err) {
		return
	}
	defer conn.Close()

	var messages []string
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		messages = append(messages, string(message))
	}
	if assert.NotEmpty(messages) {
		assert.Contains(messages[len(messages)-1], "finished")
	}

	// no stream for jobs that don't exist
	_, resp, err := websocket.DefaultDialer.Dial(wsURL[:strings.Index(wsURL, "?")]+
		"?id=de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2&token="+token, nil)
	assert.NotNil(err)
	if assert.NotNil(resp) {
		assert.Equal(http.StatusNotFound, resp.StatusCode)
	}
}

func TestLimsEndpoints(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	// a directory token acts through the service account
	token := f.login(t, auth.DirectoryService, "basi", "password")

	resp := f.get(t, "/openbis/?identifier=/LAB/ICP/TARGET&type=OBJECT", token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(uploadertest.LimsTarget, decode[openbis.Entity](t, resp).Identifier)

	resp = f.get(t, "/openbis/?identifier=/LAB/ICP/NOWHERE&type=OBJECT", token)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
	resp = f.get(t, "/openbis/?identifier=/LAB&type=GALAXY", token)
	assert.Equal(http.StatusUnprocessableEntity, resp.StatusCode)

	resp = f.putJSON(t, "/openbis/?identifier=/LAB/SCRATCH&type=PROJECT", token, nil)
	assert.Equal(http.StatusCreated, resp.StatusCode)
	resp = f.putJSON(t, "/openbis/?identifier=/LAB/SCRATCH&type=PROJECT", token, nil)
	assert.Equal(http.StatusOK, resp.StatusCode)
	resp = f.putJSON(t, "/openbis/?identifier=/LAB/SCRATCH/NOTES&type=COLLECTION", token, nil)
	assert.Equal(http.StatusCreated, resp.StatusCode)

	resp = f.get(t, "/openbis/tree", token)
	assert.Equal(http.StatusOK, resp.StatusCode)
	tree := decode[map[string]any](t, resp)
	assert.Equal("INSTANCE", tree["type"])
	assert.NotEmpty(tree["children"])

	resp = f.request(t, http.MethodDelete, "/openbis/?identifier=/LAB/SCRATCH&type=PROJECT", token, nil, "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(2, decode[ReportResponse](t, resp).Changed)
	exists, err := f.session.Exists(context.Background(), openbis.KindProject, "/LAB/SCRATCH")
	assert.Nil(err)
	assert.False(exists)
	exists, err = f.session.Exists(context.Background(), openbis.KindObject, uploadertest.LimsTarget)
	assert.Nil(err)
	assert.True(exists)

	resp = f.get(t, "/openbis/tree", "")
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.login(t, auth.DirectoryService, "basi", "password")

	resp := f.get(t, "/metrics", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.Nil(err)
	assert.Contains(string(body), "uploader_logins_total")
}

// runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	var err error
	testRoot, err = os.MkdirTemp(os.TempDir(), "uploader-services-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
	status := m.Run()
	os.RemoveAll(testRoot)
	os.Exit(status)
}
