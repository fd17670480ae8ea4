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

// Package jobs runs transfers: a file of a group's data store, processed by
// one of the store's parsers into a LIMS dataset and the entities the parser
// derives from it. The API service submits jobs to a queue in the broker;
// worker processes take them off the queue, run them and publish their
// progress on a channel named by the job's id.
package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// the dataset type registered for a transfer unless it names another one
const DefaultDatasetType = "RAW_DATA"

// how long job records stay in the broker
const RecordLifetime = 7 * 24 * time.Hour

// the level of the LIMS hierarchy a transfer's dataset is attached to
type Level string

const (
	LevelObject     Level = "object"
	LevelCollection Level = "collection"
)

// the status of a job
type Status string

const (
	// a job that has not been submitted
	StatusStopped    Status = "stopped"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in-progress"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
)

// returns true if a job with this status will not change anymore
func (s Status) Done() bool {
	return s == StatusFinished || s == StatusFailed
}

// the body of a transfer request
type ParserParameters struct {
	// name of the file in the caller's data store
	Source string `json:"source"`
	// identifier of the object the dataset is attached to
	Object string `json:"object,omitempty"`
	// identifier of the collection the dataset is attached to
	Collection string `json:"collection,omitempty"`
	// name of the parser processing the file
	Parser string `json:"parser"`
	// type of the registered dataset
	DatasetType string `json:"dataset_type,omitempty"`
	// values for the parser's extra parameters
	FunctionParameters map[string]any `json:"function_parameters,omitempty"`
}

// returns the level and identifier of the transfer's target; exactly one of
// object and collection must be given
func (p ParserParameters) Target() (Level, string, error) {
	object := strings.TrimSpace(p.Object)
	collection := strings.TrimSpace(p.Collection)
	switch {
	case object != "" && collection != "":
		return "", "", &TargetError{Reason: "both an object and a collection were given, choose one"}
	case object != "":
		return LevelObject, object, nil
	case collection != "":
		return LevelCollection, collection, nil
	}
	return "", "", &TargetError{Reason: "neither an object nor a collection was given"}
}

// the dataset type of the transfer, defaulting to RAW_DATA
func (p ParserParameters) Dataset() string {
	if p.DatasetType == "" {
		return DefaultDatasetType
	}
	return strings.ToUpper(p.DatasetType)
}

// A Job is a submitted transfer.
type Job struct {
	Id uuid.UUID `json:"id"`
	// the submitting user and the bearer token the job acts with
	Owner string `json:"owner"`
	Token string `json:"-"`
	// the group whose data store holds the source file
	Group       string         `json:"group"`
	Source      string         `json:"source"`
	Parser      string         `json:"parser"`
	Level       Level          `json:"level"`
	Target      string         `json:"target"`
	DatasetType string         `json:"dataset_type"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	Status Status `json:"status"`
	// the registered dataset once finished, the failure once failed
	Result    string    `json:"result,omitempty"`
	Submitted time.Time `json:"submitted"`
	Started   time.Time `json:"started,omitempty"`
	Stopped   time.Time `json:"stopped,omitempty"`
}

// the message a job's queue entry carries; unlike the job's JSON form it
// includes the token
type queueEntry struct {
	Job
	Token string `json:"token"`
}

func recordKey(id uuid.UUID) string {
	return fmt.Sprintf("job:%s", id.String())
}

// the name of the channel carrying the job's progress messages
func Channel(id uuid.UUID) string {
	return id.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// the broker hash fields describing a job
func (j Job) fields() map[string]string {
	return map[string]string{
		"id":           j.Id.String(),
		"owner":        j.Owner,
		"group":        j.Group,
		"source":       j.Source,
		"parser":       j.Parser,
		"level":        string(j.Level),
		"target":       j.Target,
		"dataset_type": j.DatasetType,
		"status":       string(j.Status),
		"result":       j.Result,
		"submitted":    formatTime(j.Submitted),
		"started":      formatTime(j.Started),
		"stopped":      formatTime(j.Stopped),
	}
}

func jobFromFields(fields map[string]string) (Job, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return Job{}, &InvalidJobError{Id: fields["id"], Message: err.Error()}
	}
	job := Job{
		Id:          id,
		Owner:       fields["owner"],
		Group:       fields["group"],
		Source:      fields["source"],
		Parser:      fields["parser"],
		Level:       Level(fields["level"]),
		Target:      fields["target"],
		DatasetType: fields["dataset_type"],
		Status:      Status(fields["status"]),
		Result:      fields["result"],
	}
	for name, t := range map[string]*time.Time{
		"submitted": &job.Submitted,
		"started":   &job.Started,
		"stopped":   &job.Stopped,
	} {
		if *t, err = parseTime(fields[name]); err != nil {
			return Job{}, &InvalidJobError{Id: fields["id"], Message: err.Error()}
		}
	}
	return job, nil
}
