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
	"errors"
	"fmt"
	"log/slog"

	"github.com/deliveryhero/pipeline/v2"

	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// a job moving through the stages of the pipeline
type run struct {
	job Job
	// publishes a progress message
	report func(format string, args ...any)

	store   *datastore.Store
	files   []string
	parser  parsers.Parser
	args    parsers.Arguments
	session *openbis.Session
	tx      *openbis.Transaction
	dataset parsers.Dataset
	// the committed dataset
	result openbis.Entity
	// the number of entities the commit created
	created int
}

type stage func(ctx context.Context, r *run) (*run, error)

// turns a stage's panic into an error, since stages run on the pipeline's
// goroutine
func guard(name string, s stage) stage {
	return func(ctx context.Context, r *run) (out *run, err error) {
		defer func() {
			if p := recover(); p != nil {
				slog.Error(fmt.Sprintf("Job %s: %s stage panicked: %v", r.job.Id, name, p))
				err = &PanicError{Stage: name, Value: p}
			}
		}()
		slog.Debug(fmt.Sprintf("Job %s: %s", r.job.Id, name))
		return s(ctx, r)
	}
}

// runs a job through the transfer stages, returning the finished run or the
// first error
func (w *Worker) execute(ctx context.Context, r *run) (*run, error) {
	var failure error
	cancel := func(_ *run, err error) {
		if failure == nil {
			failure = err
		}
	}
	sequence := pipeline.Sequence(
		pipeline.NewProcessor(guard("resolve", w.resolve), cancel),
		pipeline.NewProcessor(guard("session", w.openSession), cancel),
		pipeline.NewProcessor(guard("dataset", stageDataset), cancel),
		pipeline.NewProcessor(guard("parse", parse), cancel),
		pipeline.NewProcessor(guard("commit", commit), cancel),
	)
	var done *run
	for out := range pipeline.Process(ctx, sequence, pipeline.Emit(r)) {
		done = out
	}
	if failure != nil {
		return nil, failure
	}
	if done == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New("The job left the pipeline without a result")
	}
	return done, nil
}

// finds the source file and the parser in the group's store and validates
// the parser's arguments
func (w *Worker) resolve(ctx context.Context, r *run) (*run, error) {
	store, err := w.stores.Open(r.job.Group)
	if err != nil {
		return nil, err
	}
	r.store = store
	if r.files, err = store.GetFile(r.job.Source); err != nil {
		return nil, err
	}
	if r.parser, err = store.Parser(r.job.Parser); err != nil {
		return nil, err
	}
	schema := parsers.GenerateParameterSchema(r.job.Parser, r.parser)
	if r.args, err = schema.Validate(r.job.Parameters); err != nil {
		return nil, err
	}
	r.report("Processing %s with %s", r.job.Source, r.job.Parser)
	return r, nil
}

func (w *Worker) openSession(ctx context.Context, r *run) (*run, error) {
	session, err := w.sessions.SessionOrService(ctx, r.job.Token)
	if err != nil {
		return nil, err
	}
	r.session = session
	return r, nil
}

// stages the creation of the dataset holding the source file below the
// target
func stageDataset(ctx context.Context, r *run) (*run, error) {
	kind := openbis.KindObject
	if r.job.Level == LevelCollection {
		kind = openbis.KindCollection
	}
	exists, err := r.session.Exists(ctx, kind, r.job.Target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &MissingTargetError{Level: r.job.Level, Identifier: r.job.Target}
	}
	dataset := openbis.Entity{Kind: openbis.KindDataset, Type: r.job.DatasetType, Files: r.files}
	r.dataset = parsers.Dataset{Files: r.files, Type: r.job.DatasetType}
	if r.job.Level == LevelCollection {
		dataset.Collection = r.job.Target
		r.dataset.Collection = r.job.Target
	} else {
		dataset.Object = r.job.Target
		r.dataset.Object = r.job.Target
	}
	r.tx = openbis.NewTransaction()
	r.dataset.Ref = r.tx.Create(dataset)
	r.report("Staged a %s dataset in %s %s", r.job.DatasetType, r.job.Level, r.job.Target)
	return r, nil
}

func parse(ctx context.Context, r *run) (*run, error) {
	progress := func(message string) { r.report("%s", message) }
	tx, err := r.parser.Process(parsers.WithProgress(ctx, progress), r.session, r.tx,
		r.dataset, r.args)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("The parser %s returned no transaction", r.job.Parser)
	}
	r.tx = tx
	return r, nil
}

func commit(ctx context.Context, r *run) (*run, error) {
	r.report("Committing %d operations", r.tx.Len())
	created, err := r.tx.Commit(ctx, r.session)
	if err != nil {
		return nil, err
	}
	for _, e := range created {
		if e.Kind == openbis.KindDataset {
			r.result = e
			break
		}
	}
	r.created = len(created)
	return r, nil
}
