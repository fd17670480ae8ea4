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
	"encoding/json"
	"net/http"
	"time"

	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/jobs"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"openBIS uploader" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a bearer token issued by a login
type TokenResponse struct {
	AccessToken string `json:"access_token" doc:"The bearer token"`
	TokenType   string `json:"token_type" example:"bearer" doc:"Always bearer"`
}

// the outcome of a token check
type CheckResponse struct {
	Token string `json:"token" doc:"The checked token"`
	Valid bool   `json:"valid" doc:"True if every requested backend accepts the token"`
}

// a plain message
type MessageResponse struct {
	Message string `json:"message"`
}

// a file in the caller's data store
type FileResponse struct {
	Name     string    `json:"name" example:"230201_batch.zip"`
	Modified time.Time `json:"modified" doc:"Time of the last modification"`
	Created  time.Time `json:"created" doc:"Time of creation (or of the last status change)"`
	Size     int64     `json:"size" doc:"Size in bytes"`
}

func fileResponse(info datastore.FileInfo) FileResponse {
	return FileResponse{
		Name:     info.Name,
		Modified: info.Modified,
		Created:  info.Created,
		Size:     info.Size,
	}
}

func fileResponses(infos []datastore.FileInfo) []FileResponse {
	files := make([]FileResponse, len(infos))
	for i, info := range infos {
		files[i] = fileResponse(info)
	}
	return files
}

// the id of a submitted transfer
type TransferResponse struct {
	TaskId string `json:"taskid" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"The id of the job"`
}

// the state of a transfer job
type JobStatusResponse struct {
	Id          string      `json:"id"`
	Owner       string      `json:"owner"`
	Source      string      `json:"source"`
	Parser      string      `json:"parser"`
	Level       jobs.Level  `json:"level" enum:"object,collection"`
	Target      string      `json:"target"`
	DatasetType string      `json:"dataset_type"`
	Status      jobs.Status `json:"status" enum:"stopped,queued,in-progress,finished,failed"`
	Result      string      `json:"result,omitempty" doc:"The registered dataset, or the failure"`
	Submitted   time.Time   `json:"submitted"`
	Started     *time.Time  `json:"started,omitempty"`
	Stopped     *time.Time  `json:"stopped,omitempty"`
}

func jobStatusResponse(job jobs.Job) JobStatusResponse {
	r := JobStatusResponse{
		Id:          job.Id.String(),
		Owner:       job.Owner,
		Source:      job.Source,
		Parser:      job.Parser,
		Level:       job.Level,
		Target:      job.Target,
		DatasetType: job.DatasetType,
		Status:      job.Status,
		Result:      job.Result,
		Submitted:   job.Submitted,
	}
	if !job.Started.IsZero() {
		r.Started = &job.Started
	}
	if !job.Stopped.IsZero() {
		r.Stopped = &job.Stopped
	}
	return r
}

// a report of a LIMS mutation
type ReportResponse struct {
	Changed   int `json:"changed" doc:"The number of entities created or deleted"`
	Unchanged int `json:"unchanged" doc:"The number of entities that existed already or were kept"`
}

// This type holds information about an error that occurred responding to a
// request outside of the API framework (websocket upgrades).
type ErrorResponse struct {
	// An HTTP error code
	Code int `json:"code"`
	// A descriptive error message
	Error string `json:"message"`
}

// This package-specific helper function writes an error to an
// http.ResponseWriter, giving it the proper status code, and encoding an
// ErrorResponse in the response body.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	e := ErrorResponse{Code: code, Error: message}
	data, _ := json.Marshal(e)
	w.Write(data)
}
