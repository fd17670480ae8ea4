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

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/empa-scientific-it/openbis-uploader/broker"
	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/metrics"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// a transfer to submit on behalf of a user
type Request struct {
	// the user and the bearer token the job will act with
	Owner string
	Token string
	// the data store of the user's group
	Store      *datastore.Store
	Parameters ParserParameters
}

// The Orchestrator accepts transfers and reports on them. It checks
// everything it can before a job is queued, so that requests naming missing
// files, unknown parsers or bad parameters fail immediately.
type Orchestrator struct {
	broker *broker.Broker
	queue  string
}

// creates an orchestrator submitting to the configured queue
func NewOrchestratorFromConfig(b *broker.Broker) *Orchestrator {
	return NewOrchestrator(b, config.Redis.Queue)
}

func NewOrchestrator(b *broker.Broker, queue string) *Orchestrator {
	return &Orchestrator{broker: b, queue: queue}
}

// queues a transfer and returns the id of its job
func (o *Orchestrator) Submit(ctx context.Context, request Request) (uuid.UUID, error) {
	params := request.Parameters
	level, target, err := params.Target()
	if err != nil {
		return uuid.Nil, err
	}
	if _, err = request.Store.GetFile(params.Source); err != nil {
		return uuid.Nil, err
	}
	parser, err := request.Store.Parser(params.Parser)
	if err != nil {
		return uuid.Nil, err
	}
	schema := parsers.GenerateParameterSchema(params.Parser, parser)
	if _, err = schema.Validate(params.FunctionParameters); err != nil {
		return uuid.Nil, err
	}

	job := Job{
		Id:          uuid.New(),
		Owner:       request.Owner,
		Token:       request.Token,
		Group:       request.Store.Group(),
		Source:      params.Source,
		Parser:      params.Parser,
		Level:       level,
		Target:      target,
		DatasetType: params.Dataset(),
		Parameters:  params.FunctionParameters,
		Status:      StatusQueued,
		Submitted:   time.Now(),
	}
	payload, err := json.Marshal(queueEntry{Job: job, Token: job.Token})
	if err != nil {
		return uuid.Nil, err
	}
	if err = o.broker.SetFields(ctx, recordKey(job.Id), job.fields(), RecordLifetime); err != nil {
		return uuid.Nil, err
	}
	if err = o.broker.Enqueue(ctx, o.queue, payload); err != nil {
		// no worker will ever pick the job up
		if delErr := o.broker.Delete(context.WithoutCancel(ctx), recordKey(job.Id)); delErr != nil {
			slog.Error(fmt.Sprintf("Couldn't remove record of unqueued job %s: %s", job.Id, delErr.Error()))
		}
		return uuid.Nil, err
	}
	metrics.RecordJobSubmitted(job.Parser)
	slog.Info(fmt.Sprintf("Queued job %s: %s of %s with %s into %s %s", job.Id, job.Owner,
		job.Source, job.Parser, job.Level, job.Target))
	return job.Id, nil
}

// returns the job with the given id
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (Job, error) {
	fields, err := o.broker.Fields(ctx, recordKey(id))
	var missing *broker.KeyNotFoundError
	if errors.As(err, &missing) {
		return Job{}, &NotFoundError{Id: id}
	}
	if err != nil {
		return Job{}, err
	}
	return jobFromFields(fields)
}

// subscribes to the progress messages of the job with the given id
func (o *Orchestrator) Subscribe(ctx context.Context, id uuid.UUID) (*broker.Subscription, error) {
	return o.broker.Subscribe(ctx, Channel(id))
}

// passes the job's progress messages to send until the job is done, send
// fails or ctx ends. Each wait for a message lasts at most poll; the job's
// status is checked whenever one passes without a message. A job that is
// already done yields a single summary message.
func (o *Orchestrator) Follow(ctx context.Context, id uuid.UUID, poll time.Duration,
	send func(message string) error) error {
	subscription, err := o.Subscribe(ctx, id)
	if err != nil {
		return err
	}
	defer subscription.Close()

	job, err := o.Status(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Done() {
		return send(Summary(job))
	}
	for {
		message, ok, err := subscription.Next(ctx, poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ok {
			if err := send(message); err != nil {
				return err
			}
			continue
		}
		job, err = o.Status(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.Done() {
			return nil
		}
	}
}

// the message announcing a job's outcome
func Summary(job Job) string {
	switch job.Status {
	case StatusFinished:
		return fmt.Sprintf("Job %s finished: registered dataset %s", job.Id, job.Result)
	case StatusFailed:
		return fmt.Sprintf("Job %s failed: %s", job.Id, job.Result)
	}
	return fmt.Sprintf("Job %s is %s", job.Id, job.Status)
}
