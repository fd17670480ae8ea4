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

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/empa-scientific-it/openbis-uploader/broker"
	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/journal"
	"github.com/empa-scientific-it/openbis-uploader/metrics"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// provides the LIMS session a job acts with
type SessionProvider interface {
	// returns the token's own session, or the service session if the
	// token has none
	SessionOrService(ctx context.Context, token string) (*openbis.Session, error)
}

// worker settings
type Options struct {
	// the queue jobs are taken from
	Queue string
	// the number of jobs run at the same time
	Concurrency int
	// the longest a job may run
	Timeout time.Duration
	// the longest a consumer blocks waiting for a job
	Wait time.Duration
}

// A Worker takes jobs off the queue and runs them. A failing job never stops
// the worker: its error becomes the job's result.
type Worker struct {
	broker   *broker.Broker
	stores   *datastore.Stores
	sessions SessionProvider
	// may be nil
	journal *journal.Journal
	options Options
}

// creates a worker with the configured queue, concurrency and timeout
func NewWorkerFromConfig(b *broker.Broker, stores *datastore.Stores, sessions SessionProvider,
	j *journal.Journal) *Worker {
	return NewWorker(b, stores, sessions, j, Options{
		Queue:       config.Redis.Queue,
		Concurrency: config.Service.Concurrency,
		Timeout:     time.Duration(config.Service.JobTimeout) * time.Minute,
	})
}

func NewWorker(b *broker.Broker, stores *datastore.Stores, sessions SessionProvider,
	j *journal.Journal, options Options) *Worker {
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	if options.Timeout <= 0 {
		options.Timeout = 4 * time.Hour
	}
	if options.Wait <= 0 {
		options.Wait = time.Second
	}
	return &Worker{
		broker:   b,
		stores:   stores,
		sessions: sessions,
		journal:  j,
		options:  options,
	}
}

// runs jobs until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	slog.Info(fmt.Sprintf("Worker consuming %s with %d goroutines", w.options.Queue,
		w.options.Concurrency))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.options.Concurrency; i++ {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}
	return g.Wait()
}

// waits for the next queue entry, retrying with exponential backoff while
// the broker is unreachable; returns nil if none arrived in time
func (w *Worker) next(ctx context.Context) ([]byte, error) {
	var payload []byte
	operation := func() error {
		p, err := w.broker.Dequeue(ctx, w.options.Queue, w.options.Wait)
		var empty *broker.EmptyQueueError
		switch {
		case errors.As(err, &empty):
			payload = nil
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case err != nil:
			return err
		}
		payload = p
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		slog.Warn(fmt.Sprintf("Couldn't take a job off %s (%s), retrying in %s",
			w.options.Queue, err.Error(), wait))
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	return payload, err
}

func (w *Worker) consume(ctx context.Context) error {
	for ctx.Err() == nil {
		payload, err := w.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if payload == nil {
			continue
		}
		if n, err := w.broker.QueueLength(ctx, w.options.Queue); err == nil {
			metrics.SetQueueLength(n)
		}
		var entry queueEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			slog.Error(fmt.Sprintf("Dropping malformed queue entry: %s", err.Error()))
			continue
		}
		job := entry.Job
		job.Token = entry.Token
		w.Process(ctx, job)
	}
	return nil
}

// publishes a progress message of the job; failures are only logged
func (w *Worker) publish(ctx context.Context, id fmt.Stringer, message string) {
	slog.Debug(fmt.Sprintf("Job %s: %s", id, message))
	if err := w.broker.Publish(ctx, id.String(), message); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't publish progress of job %s: %s", id, err.Error()))
	}
}

func (w *Worker) update(ctx context.Context, job Job) {
	if err := w.broker.SetFields(ctx, recordKey(job.Id), job.fields(), RecordLifetime); err != nil {
		slog.Error(fmt.Sprintf("Couldn't update the record of job %s: %s", job.Id, err.Error()))
	}
}

// runs one job to completion or failure under the worker's timeout and
// returns it with its final status
func (w *Worker) Process(ctx context.Context, job Job) Job {
	// bookkeeping outlives the job's own deadline
	bookkeeping := context.WithoutCancel(ctx)

	job.Status = StatusInProgress
	job.Started = time.Now()
	w.update(bookkeeping, job)
	w.publish(bookkeeping, job.Id, fmt.Sprintf("Job %s started", job.Id))

	jobCtx, cancel := context.WithTimeout(ctx, w.options.Timeout)
	defer cancel()
	r := &run{
		job: job,
		report: func(format string, args ...any) {
			w.publish(bookkeeping, job.Id, fmt.Sprintf(format, args...))
		},
	}
	done, err := w.execute(jobCtx, r)
	job.Stopped = time.Now()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("The job exceeded its time limit of %s", w.options.Timeout)
		}
		job.Status = StatusFailed
		job.Result = err.Error()
		slog.Error(fmt.Sprintf("Job %s failed: %s", job.Id, job.Result))
	} else {
		job.Status = StatusFinished
		job.Result = done.result.PermId
		if job.Result == "" {
			job.Result = done.result.Identifier
		}
		slog.Info(fmt.Sprintf("Job %s finished: dataset %s and %d further entities registered",
			job.Id, job.Result, done.created-1))
	}
	// the summary and the journal entry precede the status change, so that
	// whoever sees a finished job finds everything else in place
	w.publish(bookkeeping, job.Id, Summary(job))
	w.record(job, done)
	w.update(bookkeeping, job)
	metrics.RecordJobFinished(string(job.Status), job.Stopped.Sub(job.Started))
	return job
}

// records the finished job in the journal
func (w *Worker) record(job Job, done *run) {
	if w.journal == nil {
		return
	}
	record := journal.Record{
		Id:        job.Id,
		Owner:     job.Owner,
		Group:     job.Group,
		Parser:    job.Parser,
		Source:    job.Source,
		Target:    job.Target,
		Status:    string(job.Status),
		Result:    job.Result,
		StartTime: job.Started,
		StopTime:  job.Stopped,
	}
	if done != nil {
		manifest, err := journal.NewManifest(done.store.Path(), job.Owner, done.files)
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't describe the files of job %s: %s", job.Id, err.Error()))
		} else {
			record.Manifest = manifest
		}
	}
	if err := w.journal.Record(record); err != nil {
		slog.Error(err.Error())
	}
}
