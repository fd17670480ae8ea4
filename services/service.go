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
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/empa-scientific-it/openbis-uploader/auth"
	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/jobs"
	"github.com/empa-scientific-it/openbis-uploader/metrics"
)

// Version numbers
var majorVersion = 1
var minorVersion = 0
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// the collaborators the API service delegates to
type Dependencies struct {
	// resource servers and the credentials they share
	Auth      *auth.Manager
	Directory *auth.DirectoryServer
	Lims      *auth.LimsServer
	// data stores of the users' groups
	Stores *datastore.Stores
	// accepts and reports on transfer jobs
	Jobs *jobs.Orchestrator
	// the longest a progress stream waits for a message before it checks
	// the job's status
	ProgressPoll time.Duration
	// the maximum number of simultaneous connections
	MaxConnections int
}

// The Service is the uploader's HTTP API: logins against the directory and
// the LIMS, the files of the caller's group, transfers of those files into
// the LIMS and a view of the LIMS itself.
type Service struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	deps Dependencies
}

// extracts the token from an authorization header of the form
// "Bearer <token>"
func bearerToken(authorizationHeader string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorizationHeader), " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", huma.Error401Unauthorized("Invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}

// the user behind a request
type caller struct {
	username string
	token    string
	// the data store of the user's group
	store *datastore.Store
}

// authorizes the bearer of a directory token, resolving the data store of
// the group the user belongs to
func (service *Service) authorize(ctx context.Context, authorizationHeader string) (*caller, error) {
	token, err := bearerToken(authorizationHeader)
	if err != nil {
		return nil, err
	}
	claims, err := service.deps.Auth.Context().DecodeAccessToken(token, auth.DirectoryService)
	if err != nil {
		return nil, httpError(err)
	}
	group, err := service.deps.Directory.Group(ctx, token)
	if err != nil {
		return nil, httpError(err)
	}
	store, err := service.deps.Stores.Open(group)
	if err != nil {
		return nil, httpError(err)
	}
	return &caller{username: claims.Subject, token: token, store: store}, nil
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root (no authorization needed for this one)
func (service *Service) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	docs := ""
	if HaveDocEndpoints {
		docs = "/docs"
	}
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: docs,
		},
	}, nil
}

// returns the uptime for the service in seconds
func (service *Service) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs the API service from the configuration and its collaborators
func NewFromConfig(deps Dependencies) (*Service, error) {
	deps.ProgressPoll = time.Duration(config.Service.ProgressPoll) * time.Millisecond
	deps.MaxConnections = config.Service.MaxConnections
	return New(deps)
}

// constructs the API service
func New(deps Dependencies) (*Service, error) {
	switch {
	case deps.Auth == nil:
		return nil, fmt.Errorf("No authentication manager was given.")
	case deps.Directory == nil:
		return nil, fmt.Errorf("No directory server was given.")
	case deps.Lims == nil:
		return nil, fmt.Errorf("No LIMS server was given.")
	case deps.Stores == nil:
		return nil, fmt.Errorf("No data stores were given.")
	case deps.Jobs == nil:
		return nil, fmt.Errorf("No job orchestrator was given.")
	}
	if deps.ProgressPoll <= 0 {
		deps.ProgressPoll = time.Second
	}
	if deps.MaxConnections <= 0 {
		deps.MaxConnections = 100
	}

	service := &Service{
		Name:      "openBIS uploader",
		Version:   version,
		StartTime: time.Now(),
		Port:      -1,
		deps:      deps,
	}

	// set up routing
	service.Router = mux.NewRouter()
	service.Router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	service.Router.HandleFunc("/tasks/log", service.streamJobLog).Methods(http.MethodGet)
	AddDocEndpoints(service.Router)

	apiConfig := huma.DefaultConfig(service.Name, service.Version)
	apiConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	api := humamux.New(service.Router, apiConfig)
	service.API = api
	huma.Get(api, "/", service.getRoot)

	service.addAuthEndpoints(api)
	service.addDatasetEndpoints(api)
	service.addTaskEndpoints(api)
	service.addLimsEndpoints(api)

	return service, nil
}

// starts the service
func (service *Service) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", service.deps.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, service.deps.MaxConnections)

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *Service) Shutdown(ctx context.Context) error {
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *Service) Close() {
	if service.Server != nil {
		service.Server.Close()
	}
}
