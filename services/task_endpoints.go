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
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/empa-scientific-it/openbis-uploader/jobs"
)

type JobStatusOutput struct {
	Body JobStatusResponse `doc:"The state of the transfer job with the given id"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API is used from browser applications served elsewhere
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (service *Service) addTaskEndpoints(api huma.API) {
	huma.Get(api, "/tasks/status", service.getJobStatus)
}

// returns the job with the given id if it belongs to the caller's group
func (service *Service) callerJob(ctx context.Context, c *caller, id string) (jobs.Job, error) {
	jobId, err := uuid.Parse(id)
	if err != nil {
		return jobs.Job{}, huma.Error422UnprocessableEntity(fmt.Sprintf("Invalid job id: %s", id))
	}
	job, err := service.deps.Jobs.Status(ctx, jobId)
	if err != nil {
		return jobs.Job{}, httpError(err)
	}
	if job.Group != c.store.Group() {
		return jobs.Job{}, httpError(&jobs.NotFoundError{Id: jobId})
	}
	return job, nil
}

// handler method for getting the status of a transfer job
func (service *Service) getJobStatus(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
		Id            string `query:"id" required:"true" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the id of the job"`
	}) (*JobStatusOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	job, err := service.callerJob(ctx, caller, input.Id)
	if err != nil {
		return nil, err
	}
	return &JobStatusOutput{Body: jobStatusResponse(job)}, nil
}

// streams the progress messages of a job over a websocket until the job
// ends or the client goes away. Browsers can't set headers on websocket
// requests, so the token may also be passed as a query parameter.
func (service *Service) streamJobLog(w http.ResponseWriter, r *http.Request) {
	authorization := r.Header.Get("Authorization")
	if token := r.URL.Query().Get("token"); token != "" {
		authorization = "Bearer " + token
	}
	caller, err := service.authorize(r.Context(), authorization)
	if err == nil {
		_, err = service.callerJob(r.Context(), caller, r.URL.Query().Get("id"))
	}
	if err != nil {
		code := http.StatusInternalServerError
		var statusErr huma.StatusError
		if errors.As(err, &statusErr) {
			code = statusErr.GetStatus()
		}
		writeError(w, err.Error(), code)
		return
	}
	id := uuid.MustParse(r.URL.Query().Get("id"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has responded already
		slog.Warn(fmt.Sprintf("Couldn't open a progress stream for job %s: %s", id, err.Error()))
		return
	}
	defer conn.Close()
	slog.Debug(fmt.Sprintf("Streaming the progress of job %s", id))

	// the client only ever closes the connection
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(message string) error {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, []byte(message))
	}
	if err = service.deps.Jobs.Follow(ctx, id, service.deps.ProgressPoll, send); err != nil {
		slog.Warn(fmt.Sprintf("Progress stream of job %s ended: %s", id, err.Error()))
	}
	closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
}
